package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ckd-screening-service/internal/setup"
)

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with a desktop MCP client",
	}
	cmd.PersistentFlags().String("config", "", "Client config file (defaults to the desktop client's location)")

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Add or update the screening server entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := clientConfigPath(cmd)
			if err != nil {
				return err
			}
			binary, _ := cmd.Flags().GetString("binary")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			patientsFile, _ := cmd.Flags().GetString("patients-file")

			entry, err := setup.Register(path, setup.Options{
				BinaryPath:   binary,
				DataDir:      dataDir,
				PatientsFile: patientsFile,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %q -> %s in %s\n", setup.ServerName, entry.Command, path)
			return nil
		},
	}
	registerCmd.Flags().String("binary", "", "Path to the mcp-server executable (searched on PATH when empty)")
	registerCmd.Flags().String("data-dir", "", "Value for CKD_DATA_DIR")
	registerCmd.Flags().String("patients-file", "", "Value for CKD_PATIENTS_FILE")
	cmd.AddCommand(registerCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the registration and any problems with it",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := clientConfigPath(cmd)
			if err != nil {
				return err
			}
			status, err := setup.Inspect(path)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(status)
		},
	})

	return cmd
}

func clientConfigPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, nil
	}
	return setup.DefaultConfigPath()
}
