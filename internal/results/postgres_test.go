package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ckd-screening-service/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()

	store, err := NewPostgresStore(db, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		require.NoError(t, store.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return store, mock
}

func runColumns(t *testing.T, run *domain.ScreeningRun) ([]byte, []byte) {
	t.Helper()
	batch, worklist, err := encodeRun(run)
	require.NoError(t, err)
	return batch, worklist
}

func TestNewPostgresStore(t *testing.T) {
	_, err := NewPostgresStore(nil, quietLogger())
	assert.Error(t, err)

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	_, err = NewPostgresStore(db, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestPostgresStore_Save(t *testing.T) {
	store, mock := newMockStore(t)
	run := sampleRun("run-1", evaluated)
	batch, worklist := runColumns(t, run)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO screening_runs")).
		WithArgs("run-1", evaluated, evaluated.Add(9*time.Hour), 3, 1, 0, 1, string(batch), string(worklist)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), run))
}

func TestPostgresStore_SaveError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO screening_runs")).
		WillReturnError(errors.New("disk full"))

	err := store.Save(context.Background(), sampleRun("run-1", evaluated))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save run")
}

func TestPostgresStore_SaveValidation(t *testing.T) {
	store, _ := newMockStore(t)

	var verr *domain.ValidationError
	assert.ErrorAs(t, store.Save(context.Background(), &domain.ScreeningRun{}), &verr)
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	batch, worklist := runColumns(t, sampleRun("run-1", evaluated))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT batch, worklist FROM screening_runs")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"batch", "worklist"}).AddRow(batch, worklist))

	got, err := store.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.Worklist.RunID)
	assert.Equal(t, 170, got.Worklist.Entries[0].PriorityScore)
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT batch, worklist FROM screening_runs")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"batch", "worklist"}))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresStore_Latest(t *testing.T) {
	store, mock := newMockStore(t)
	batch, worklist := runColumns(t, sampleRun("run-9", evaluated))

	mock.ExpectQuery(`ORDER BY created_at DESC, generated_at DESC\s+LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"batch", "worklist"}).AddRow(batch, worklist))

	got, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-9", got.Batch.RunID)
}

func TestPostgresStore_LatestCorruptPayload(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT batch, worklist FROM screening_runs")).
		WillReturnRows(sqlmock.NewRows([]string{"batch", "worklist"}).AddRow([]byte("{"), []byte("{}")))

	_, err := store.Latest(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode batch")
}

func TestPostgresStore_List(t *testing.T) {
	store, mock := newMockStore(t)
	generated := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"run_id", "evaluated_on", "generated_at",
		"patients_scanned", "patients_qualified", "warning_count", "worklist_size",
	}).
		AddRow("run-2", evaluated, generated, 10, 4, 2, 4).
		AddRow("run-1", evaluated.AddDate(0, 0, -1), generated.AddDate(0, 0, -1), 8, 3, 0, 3)

	mock.ExpectQuery(regexp.QuoteMeta("FROM screening_runs")).
		WithArgs(20, 0).
		WillReturnRows(rows)

	summaries, err := store.List(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, &RunSummary{
		RunID:             "run-2",
		EvaluatedOn:       evaluated,
		GeneratedAt:       generated,
		PatientsScanned:   10,
		PatientsQualified: 4,
		WarningCount:      2,
		WorklistSize:      4,
	}, summaries[0])
	assert.Equal(t, "run-1", summaries[1].RunID)
}

func TestPostgresStore_ExportJSON(t *testing.T) {
	store, mock := newMockStore(t)
	batch, worklist := runColumns(t, sampleRun("run-1", evaluated))

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC")).
		WithArgs(maxExportLimit).
		WillReturnRows(sqlmock.NewRows([]string{"batch", "worklist"}).AddRow(batch, worklist))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(context.Background(), &buf))

	var export RunExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, 1, export.Count)
	assert.Equal(t, "run-1", export.Runs[0].Batch.RunID)
}
