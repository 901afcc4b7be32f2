package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ckd-screening-service/internal/domain"
	"github.com/ckd-screening-service/internal/metrics"
	"github.com/ckd-screening-service/internal/middleware"
	"github.com/ckd-screening-service/internal/results"
	"github.com/ckd-screening-service/internal/service"
)

// Runner executes a full screening run against the configured source.
type Runner interface {
	Run(ctx context.Context, today time.Time) (*domain.ScreeningRun, error)
}

// RunReader reads stored screening runs.
type RunReader interface {
	Latest(ctx context.Context) (*domain.ScreeningRun, error)
	Get(ctx context.Context, runID string) (*domain.ScreeningRun, error)
	List(ctx context.Context, limit, offset int) ([]*results.RunSummary, error)
}

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// Dependencies are the collaborators the server routes to. Runner, Runs and
// Metrics are optional; routes needing a missing collaborator answer 503.
type Dependencies struct {
	Screening    *service.ScreeningService
	Runner       Runner
	Runs         RunReader
	Metrics      *metrics.Collector
	HealthChecks map[string]HealthCheck
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	router        *gin.Engine
	server        *http.Server
	logger        *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies, logger *logrus.Logger) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())
	router.Use(deps.Metrics.GinMiddleware())
	router.Use(middleware.RateLimit(cfg.RateLimit, logger))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	server := &Server{
		configManager: configManager,
		deps:          deps,
		router:        router,
		logger:        logger,
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is canceled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/classify", s.handleClassify)
		v1.POST("/rank", s.handleRank)
		v1.POST("/screenings", s.handleCreateScreening)
		v1.GET("/screenings", s.handleListScreenings)
		v1.GET("/screenings/latest", s.handleLatestScreening)
		v1.GET("/screenings/:id", s.handleGetScreening)
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Correlation-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
