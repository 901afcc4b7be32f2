package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/ckd-screening-service/internal/domain"
)

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

// NewSQLiteStore creates a new SQLite results store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the MCP server read while a run is being written
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		log:    logger,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS screening_runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		evaluated_on TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		patients_scanned INTEGER NOT NULL,
		patients_qualified INTEGER NOT NULL,
		warning_count INTEGER NOT NULL,
		worklist_size INTEGER NOT NULL,
		batch TEXT NOT NULL,
		worklist TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_evaluated_on ON screening_runs(evaluated_on);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores a run, replacing any earlier snapshot with the same run ID.
func (s *SQLiteStore) Save(ctx context.Context, run *domain.ScreeningRun) error {
	if err := validateRun(run); err != nil {
		return err
	}
	batch, worklist, err := encodeRun(run)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO screening_runs (
			run_id, evaluated_on, generated_at,
			patients_scanned, patients_qualified, warning_count, worklist_size,
			batch, worklist
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			evaluated_on = excluded.evaluated_on,
			generated_at = excluded.generated_at,
			patients_scanned = excluded.patients_scanned,
			patients_qualified = excluded.patients_qualified,
			warning_count = excluded.warning_count,
			worklist_size = excluded.worklist_size,
			batch = excluded.batch,
			worklist = excluded.worklist
	`,
		run.Batch.RunID,
		run.Batch.EvaluatedOn.Format(domain.DateLayout),
		run.Worklist.GeneratedAt.UTC().Format(timestampLayout),
		run.Batch.Summary.PatientsScanned,
		run.Batch.Summary.PatientsQualified,
		run.Batch.Summary.WarningCount,
		len(run.Worklist.Entries),
		string(batch),
		string(worklist),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id":  run.Batch.RunID,
		"entries": len(run.Worklist.Entries),
	}).Debug("Saved screening run")
	return nil
}

// Latest returns the most recently saved run.
func (s *SQLiteStore) Latest(ctx context.Context) (*domain.ScreeningRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT batch, worklist FROM screening_runs
		ORDER BY seq DESC
		LIMIT 1
	`)
	return scanRun(row)
}

// Get returns the run with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (*domain.ScreeningRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT batch, worklist FROM screening_runs
		WHERE run_id = ?
	`, runID)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*domain.ScreeningRun, error) {
	var batch, worklist string
	err := row.Scan(&batch, &worklist)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return decodeRun([]byte(batch), []byte(worklist))
}

// List returns run summaries with pagination, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, evaluated_on, generated_at,
			patients_scanned, patients_qualified, warning_count, worklist_size
		FROM screening_runs
		ORDER BY seq DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*RunSummary
	for rows.Next() {
		summary := &RunSummary{}
		var evaluatedOn, generatedAt string
		if err := rows.Scan(
			&summary.RunID, &evaluatedOn, &generatedAt,
			&summary.PatientsScanned, &summary.PatientsQualified, &summary.WarningCount, &summary.WorklistSize,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if summary.EvaluatedOn, err = time.Parse(domain.DateLayout, evaluatedOn); err != nil {
			return nil, fmt.Errorf("failed to parse evaluated_on: %w", err)
		}
		if summary.GeneratedAt, err = time.Parse(timestampLayout, generatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse generated_at: %w", err)
		}
		result = append(result, summary)
	}
	return result, rows.Err()
}

// ExportJSON exports every stored run, oldest first.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch, worklist FROM screening_runs
		ORDER BY seq ASC
		LIMIT ?
	`, maxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.ScreeningRun
	for rows.Next() {
		var batch, worklist string
		if err := rows.Scan(&batch, &worklist); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		run, err := decodeRun([]byte(batch), []byte(worklist))
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
