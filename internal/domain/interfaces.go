package domain

import (
	"context"
	"time"
)

// ScreeningSource supplies the patient and observation records the funnel reads.
type ScreeningSource interface {
	ListPatients(ctx context.Context) ([]Patient, error)
	// ListObservations returns observations dated on or after since.
	// A zero since returns every observation.
	ListObservations(ctx context.Context, since time.Time) ([]LabObservation, error)
}

// WorklistPublisher hands a ranked worklist to the dashboard/notification collaborator.
type WorklistPublisher interface {
	Publish(ctx context.Context, worklist *Worklist) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetScreeningConfig() *ScreeningConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
