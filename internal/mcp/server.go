// Package mcp provides the MCP server implementation.
// The server runs over stdio and requires no external databases: runs are
// read from a JSON fixture and stored in SQLite.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/ckd-screening-service/internal/config"
	"github.com/ckd-screening-service/internal/metrics"
	"github.com/ckd-screening-service/internal/results"
	"github.com/ckd-screening-service/internal/service"
)

const (
	serverName    = "ckd-screening-mcp"
	serverVersion = "v1.0.0"
)

// Server exposes the screening funnel as MCP tools.
type Server struct {
	config    *config.LiteConfig
	mcpServer *mcp.Server
	screening *service.ScreeningService
	store     results.Store
	metrics   *metrics.Collector
	logger    *logrus.Logger
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server) error

// WithResultsStore sets a custom results store.
func WithResultsStore(store results.Store) ServerOption {
	return func(s *Server) error {
		s.store = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics attaches a metrics collector to the funnel.
func WithMetrics(collector *metrics.Collector) ServerOption {
	return func(s *Server) error {
		s.metrics = collector
		return nil
	}
}

// NewServer creates a new MCP server instance.
func NewServer(cfg *config.LiteConfig, opts ...ServerOption) (*Server, error) {
	server := &Server{
		config: cfg,
		logger: logrus.New(),
	}

	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		server.logger.SetLevel(level)
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.store == nil {
		store, err := results.NewSQLiteStore(cfg.ResultsDBPath(), server.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create results store: %w", err)
		}
		server.store = store
	}

	screening, err := service.NewScreeningService(service.ScreeningConfig{
		Workers:  cfg.Workers,
		MemoSize: cfg.MemoSize,
	}, server.metrics, server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create screening service: %w", err)
	}
	server.screening = screening

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	server.registerTools()

	server.logger.WithFields(logrus.Fields{
		"data_dir":      cfg.DataDir,
		"patients_file": cfg.PatientsFile,
		"workers":       cfg.Workers,
	}).Info("MCP server initialized")
	return server, nil
}

// registerTools registers every screening tool with the MCP SDK.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, classifyPatientsTool(), s.handleClassifyPatients)
	mcp.AddTool(s.mcpServer, rankWorklistTool(), s.handleRankWorklist)
	mcp.AddTool(s.mcpServer, screenPatientsTool(), s.handleScreenPatients)
	mcp.AddTool(s.mcpServer, getScreeningRunTool(), s.handleGetScreeningRun)
	mcp.AddTool(s.mcpServer, listScreeningRunsTool(), s.handleListScreeningRuns)

	s.logger.WithField("tool_count", 5).Debug("Registered MCP tools")
}

// Start serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting CKD screening MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close releases the results store.
func (s *Server) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close results store")
			return err
		}
	}
	return nil
}

// Store returns the results store.
func (s *Server) Store() results.Store {
	return s.store
}
