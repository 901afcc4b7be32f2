package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/ckd-screening-service/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL results store.
// It expects the screening_runs table to already exist (created via migrations).
func NewPostgresStore(db *sql.DB, logger *logrus.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, log: logger}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL results store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Save stores a run, replacing any earlier snapshot with the same run ID.
func (s *PostgresStore) Save(ctx context.Context, run *domain.ScreeningRun) error {
	if err := validateRun(run); err != nil {
		return err
	}
	batch, worklist, err := encodeRun(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO screening_runs (
			run_id, evaluated_on, generated_at,
			patients_scanned, patients_qualified, warning_count, worklist_size,
			batch, worklist
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			evaluated_on = EXCLUDED.evaluated_on,
			generated_at = EXCLUDED.generated_at,
			patients_scanned = EXCLUDED.patients_scanned,
			patients_qualified = EXCLUDED.patients_qualified,
			warning_count = EXCLUDED.warning_count,
			worklist_size = EXCLUDED.worklist_size,
			batch = EXCLUDED.batch,
			worklist = EXCLUDED.worklist
	`

	_, err = s.db.ExecContext(ctx, query,
		run.Batch.RunID,
		run.Batch.EvaluatedOn,
		run.Worklist.GeneratedAt,
		run.Batch.Summary.PatientsScanned,
		run.Batch.Summary.PatientsQualified,
		run.Batch.Summary.WarningCount,
		len(run.Worklist.Entries),
		string(batch),
		string(worklist),
	)
	if err != nil {
		s.log.WithError(err).WithField("run_id", run.Batch.RunID).Error("Failed to save screening run")
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Latest returns the most recently saved run.
func (s *PostgresStore) Latest(ctx context.Context) (*domain.ScreeningRun, error) {
	query := `
		SELECT batch, worklist FROM screening_runs
		ORDER BY created_at DESC, generated_at DESC
		LIMIT 1
	`
	return s.getRun(ctx, query)
}

// Get returns the run with the given ID.
func (s *PostgresStore) Get(ctx context.Context, runID string) (*domain.ScreeningRun, error) {
	query := `
		SELECT batch, worklist FROM screening_runs
		WHERE run_id = $1
	`
	return s.getRun(ctx, query, runID)
}

func (s *PostgresStore) getRun(ctx context.Context, query string, args ...interface{}) (*domain.ScreeningRun, error) {
	var batch, worklist []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&batch, &worklist)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return decodeRun(batch, worklist)
}

// List returns run summaries with pagination, newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*RunSummary, error) {
	query := `
		SELECT run_id, evaluated_on, generated_at,
			patients_scanned, patients_qualified, warning_count, worklist_size
		FROM screening_runs
		ORDER BY created_at DESC, generated_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var result []*RunSummary
	for rows.Next() {
		summary := &RunSummary{}
		if err := rows.Scan(
			&summary.RunID, &summary.EvaluatedOn, &summary.GeneratedAt,
			&summary.PatientsScanned, &summary.PatientsQualified, &summary.WarningCount, &summary.WorklistSize,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		summary.EvaluatedOn = domain.CalendarDate(summary.EvaluatedOn)
		result = append(result, summary)
	}
	return result, rows.Err()
}

// ExportJSON exports every stored run, oldest first.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch, worklist FROM screening_runs
		ORDER BY created_at ASC
		LIMIT $1
	`, maxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.ScreeningRun
	for rows.Next() {
		var batch, worklist []byte
		if err := rows.Scan(&batch, &worklist); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		run, err := decodeRun(batch, worklist)
		if err != nil {
			return err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return exportRuns(writer, runs)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
