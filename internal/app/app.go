// Package app assembles the screening service from configuration: the data
// source, the results store, the worklist publisher and the funnel itself.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ckd-screening-service/internal/api"
	"github.com/ckd-screening-service/internal/config"
	"github.com/ckd-screening-service/internal/database"
	"github.com/ckd-screening-service/internal/domain"
	"github.com/ckd-screening-service/internal/metrics"
	"github.com/ckd-screening-service/internal/publish"
	"github.com/ckd-screening-service/internal/repository"
	"github.com/ckd-screening-service/internal/results"
	"github.com/ckd-screening-service/internal/service"
)

// Components holds every collaborator built from configuration.
type Components struct {
	DB        *database.DB
	Source    domain.ScreeningSource
	Store     results.Store
	Publisher *publish.RedisPublisher
	Screening *service.ScreeningService
	Runner    *service.ScreeningRunner
	Metrics   *metrics.Collector
	Registry  *prometheus.Registry

	redis  *redis.Client
	logger *logrus.Logger
}

// Build wires the components described by cfg. On error everything already
// opened is closed again.
func Build(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (_ *Components, err error) {
	c := &Components{logger: logger, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Metrics = metrics.NewCollector(c.Registry)

	if cfg.Screening.Source == config.SourcePostgres {
		c.DB, err = database.NewConnection(ctx, database.ConfigFrom(cfg.Database), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	var source domain.ScreeningSource
	switch cfg.Screening.Source {
	case config.SourcePostgres:
		source = repository.NewPostgresSource(c.DB.Pool, logger)
	case config.SourceFile:
		source = repository.NewJSONFileSource(cfg.Screening.PatientsFile, logger)
	default:
		return nil, fmt.Errorf("unknown screening source: %s", cfg.Screening.Source)
	}
	c.Source = repository.NewBreakerSource(source, cfg.Breaker, logger)

	switch cfg.Screening.ResultsStore {
	case config.StorePostgres:
		store, storeErr := results.NewPostgresStoreFromURL(database.ConfigFrom(cfg.Database).DSN(), logger)
		if storeErr != nil {
			return nil, fmt.Errorf("failed to open results store: %w", storeErr)
		}
		c.Store = store
	case config.StoreSQLite:
		store, storeErr := results.NewSQLiteStore(cfg.Screening.ResultsDBPath, logger)
		if storeErr != nil {
			return nil, fmt.Errorf("failed to open results store: %w", storeErr)
		}
		c.Store = store
	case config.StoreNone, "":
	default:
		return nil, fmt.Errorf("unknown results store: %s", cfg.Screening.ResultsStore)
	}

	if cfg.Cache.Enabled {
		c.redis, err = publish.NewRedisClient(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		c.Publisher = publish.NewRedisPublisher(c.redis, cfg.Cache, logger)
	}

	c.Screening, err = service.NewScreeningService(service.ScreeningConfig{
		Workers:  cfg.Screening.Workers,
		MemoSize: cfg.Screening.MemoSize,
	}, c.Metrics, logger)
	if err != nil {
		return nil, err
	}

	// Typed nils must not leak into the runner's optional interfaces.
	var sink service.ResultSink
	if c.Store != nil {
		sink = c.Store
	}
	var publisher domain.WorklistPublisher
	if c.Publisher != nil {
		publisher = c.Publisher
	}
	c.Runner = service.NewScreeningRunner(c.Source, c.Screening, sink, publisher, logger)

	logger.WithFields(logrus.Fields{
		"source":        cfg.Screening.Source,
		"results_store": cfg.Screening.ResultsStore,
		"publication":   cfg.Cache.Enabled,
		"workers":       cfg.Screening.Workers,
	}).Info("Screening components initialized")
	return c, nil
}

// HealthChecks returns a ping per external dependency.
func (c *Components) HealthChecks() map[string]api.HealthCheck {
	checks := make(map[string]api.HealthCheck)
	if c.DB != nil {
		checks["database"] = c.DB.Health
	}
	if c.Publisher != nil {
		checks["redis"] = c.Publisher.Ping
	}
	return checks
}

// Close releases every opened component.
func (c *Components) Close() {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close results store")
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
