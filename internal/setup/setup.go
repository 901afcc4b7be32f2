// Package setup registers the screening MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ServerName is the key the MCP server is registered under.
const ServerName = "ckd-screening"

// BinaryName is the stdio MCP server executable.
const BinaryName = "mcp-server"

// ClientConfig is the desktop client's configuration file.
// Entries other than ours are preserved verbatim.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
	extra      map[string]json.RawMessage
}

// ServerEntry describes how the client launches one MCP server.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options controls Register.
type Options struct {
	BinaryPath   string
	DataDir      string
	PatientsFile string
}

// Status reports what Register left in the client configuration.
type Status struct {
	ConfigPath   string   `json:"config_path"`
	Registered   bool     `json:"registered"`
	BinaryPath   string   `json:"binary_path,omitempty"`
	DataDir      string   `json:"data_dir,omitempty"`
	PatientsFile string   `json:"patients_file,omitempty"`
	Issues       []string `json:"issues,omitempty"`
}

// DefaultConfigPath returns the desktop client's config file for this OS.
func DefaultConfigPath() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
	return filepath.Join(dir, "claude_desktop_config.json"), nil
}

// Load reads the client configuration. A missing file yields an empty config.
func Load(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{MCPServers: make(map[string]ServerEntry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.extra); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if raw, ok := cfg.extra["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.extra, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]ServerEntry)
	}
	return cfg, nil
}

// Save writes the client configuration, creating its directory if needed.
func Save(path string, cfg *ClientConfig) error {
	doc := make(map[string]interface{}, len(cfg.extra)+1)
	for k, v := range cfg.extra {
		doc[k] = v
	}
	doc["mcpServers"] = cfg.MCPServers

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Register adds or replaces the screening server entry in the config at path.
func Register(path string, opts Options) (*ServerEntry, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	binary := opts.BinaryPath
	if binary == "" {
		if binary, err = FindBinary(); err != nil {
			return nil, err
		}
	}
	if abs, err := filepath.Abs(binary); err == nil {
		binary = abs
	}

	entry := ServerEntry{Command: binary, Env: make(map[string]string)}
	if opts.DataDir != "" {
		entry.Env["CKD_DATA_DIR"] = opts.DataDir
	}
	if opts.PatientsFile != "" {
		entry.Env["CKD_PATIENTS_FILE"] = opts.PatientsFile
	}

	cfg.MCPServers[ServerName] = entry
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindBinary looks for the MCP server executable on PATH and in common build locations.
func FindBinary() (string, error) {
	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	for _, loc := range []string{
		"./" + BinaryName,
		"./bin/" + BinaryName,
		filepath.Join(home, "go", "bin", BinaryName),
		"/usr/local/bin/" + BinaryName,
	} {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}
	return "", fmt.Errorf("binary %q not found; pass its path explicitly", BinaryName)
}

// Inspect reports the registration found in the config at path.
func Inspect(path string) (*Status, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	status := &Status{ConfigPath: path}
	entry, ok := cfg.MCPServers[ServerName]
	if !ok {
		status.Issues = append(status.Issues, "screening server is not registered")
		return status, nil
	}

	status.Registered = true
	status.BinaryPath = entry.Command
	status.DataDir = entry.Env["CKD_DATA_DIR"]
	status.PatientsFile = entry.Env["CKD_PATIENTS_FILE"]

	if info, err := os.Stat(entry.Command); err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
	} else if info.Mode()&0111 == 0 {
		status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
	}
	if status.PatientsFile != "" {
		if _, err := os.Stat(status.PatientsFile); err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("patients file not found: %s", status.PatientsFile))
		}
	}
	return status, nil
}
