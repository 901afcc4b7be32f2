// Package results stores finished screening runs for audit and retrieval.
// Stored runs are snapshots; nothing reads them back as classification input.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ckd-screening-service/internal/domain"
)

// RunSummary is the listing form of a stored run.
type RunSummary struct {
	RunID             string    `json:"run_id"`
	EvaluatedOn       time.Time `json:"evaluated_on"`
	GeneratedAt       time.Time `json:"generated_at"`
	PatientsScanned   int       `json:"patients_scanned"`
	PatientsQualified int       `json:"patients_qualified"`
	WarningCount      int       `json:"warning_count"`
	WorklistSize      int       `json:"worklist_size"`
}

// Store defines the interface for screening run storage.
type Store interface {
	// Save stores a run. Saving a run ID again replaces the earlier snapshot.
	Save(ctx context.Context, run *domain.ScreeningRun) error

	// Latest returns the most recently saved run, or domain.ErrNotFound.
	Latest(ctx context.Context) (*domain.ScreeningRun, error)

	// Get returns the run with the given ID, or domain.ErrNotFound.
	Get(ctx context.Context, runID string) (*domain.ScreeningRun, error)

	// List returns run summaries, newest first.
	List(ctx context.Context, limit, offset int) ([]*RunSummary, error)

	// ExportJSON writes every stored run to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// Close releases the store's resources.
	Close() error
}

// RunExport is the JSON export format.
type RunExport struct {
	Version    string                 `json:"version"`
	ExportedAt time.Time              `json:"exported_at"`
	Count      int                    `json:"count"`
	Runs       []*domain.ScreeningRun `json:"runs"`
}

// maxExportLimit is the maximum number of runs exported at once.
const maxExportLimit = 100000

func validateRun(run *domain.ScreeningRun) error {
	if run == nil || run.Batch == nil || run.Worklist == nil {
		return domain.NewValidationError("run", "batch and worklist are required", nil)
	}
	if run.Batch.RunID == "" {
		return domain.NewValidationError("run.batch.run_id", "run id is required", nil)
	}
	if run.Worklist.RunID != run.Batch.RunID {
		return domain.NewValidationError("run.worklist.run_id", "worklist belongs to a different run", run.Worklist.RunID)
	}
	return nil
}

func encodeRun(run *domain.ScreeningRun) (batch, worklist []byte, err error) {
	if batch, err = json.Marshal(run.Batch); err != nil {
		return nil, nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	if worklist, err = json.Marshal(run.Worklist); err != nil {
		return nil, nil, fmt.Errorf("failed to encode worklist: %w", err)
	}
	return batch, worklist, nil
}

func decodeRun(batch, worklist []byte) (*domain.ScreeningRun, error) {
	run := &domain.ScreeningRun{}
	if err := json.Unmarshal(batch, &run.Batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	if err := json.Unmarshal(worklist, &run.Worklist); err != nil {
		return nil, fmt.Errorf("failed to decode worklist: %w", err)
	}
	return run, nil
}

func exportRuns(writer io.Writer, runs []*domain.ScreeningRun) error {
	export := &RunExport{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(runs),
		Runs:       runs,
	}
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
