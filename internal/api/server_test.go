package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ckd-screening-service/internal/domain"
	"github.com/ckd-screening-service/internal/metrics"
	"github.com/ckd-screening-service/internal/repository"
	"github.com/ckd-screening-service/internal/results"
	"github.com/ckd-screening-service/internal/service"
)

var testToday = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

// stubConfig is a fixed in-memory configuration.
type stubConfig struct {
	config *domain.Config
}

func (s *stubConfig) GetConfig() *domain.Config                   { return s.config }
func (s *stubConfig) GetDatabaseConfig() *domain.DatabaseConfig   { return &s.config.Database }
func (s *stubConfig) GetServerConfig() *domain.ServerConfig       { return &s.config.Server }
func (s *stubConfig) GetScreeningConfig() *domain.ScreeningConfig { return &s.config.Screening }
func (s *stubConfig) Reload() error                               { return nil }
func (s *stubConfig) Validate() error                             { return nil }
func (s *stubConfig) GetDatabaseConnectionString() string         { return "" }
func (s *stubConfig) GetDatabaseURL() string                      { return "" }
func (s *stubConfig) GetRedisConnectionString() string            { return "" }
func (s *stubConfig) IsProduction() bool                          { return false }
func (s *stubConfig) IsDevelopment() bool                         { return true }

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, today time.Time) (*domain.ScreeningRun, error) {
	args := m.Called(ctx, today)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScreeningRun), args.Error(1)
}

type MockRuns struct {
	mock.Mock
}

func (m *MockRuns) Latest(ctx context.Context) (*domain.ScreeningRun, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScreeningRun), args.Error(1)
}

func (m *MockRuns) Get(ctx context.Context, runID string) (*domain.ScreeningRun, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScreeningRun), args.Error(1)
}

func (m *MockRuns) List(ctx context.Context, limit, offset int) ([]*results.RunSummary, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*results.RunSummary), args.Error(1)
}

func newTestServer(t *testing.T, deps Dependencies) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	if deps.Screening == nil {
		screening, err := service.NewScreeningService(service.ScreeningConfig{Workers: 2}, deps.Metrics, logger)
		require.NoError(t, err)
		deps.Screening = screening
	}

	cfg := &domain.Config{
		Server:    domain.ServerConfig{RequestTimeout: 5 * time.Second},
		Logging:   domain.LoggingConfig{Level: "error"},
		RateLimit: domain.RateLimitConfig{Enabled: false},
	}
	server := NewServer(&stubConfig{config: cfg}, deps, logger)
	gin.SetMode(gin.TestMode)
	return server
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *domain.ScreeningError {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func fptr(v float64) *float64 { return &v }

func classifyBody() ClassifyRequest {
	return ClassifyRequest{
		Today: "2024-06-15",
		Patients: []domain.PatientRecord{
			{ID: "P-abnormal", DateOfBirth: "1960-01-01", RiskFactors: domain.RiskFactors{Diabetes: true, Hypertension: true}},
			{ID: "P-missing", DateOfBirth: "1970-01-01", RiskFactors: domain.RiskFactors{Hypertension: true}},
			{ID: "P-excluded", DateOfBirth: "1990-01-01"},
		},
		Observations: []domain.ObservationRecord{
			{ID: "O1", PatientID: "P-abnormal", Type: "eGFR", Value: fptr(42), ObservedAt: "2024-05-01"},
			{ID: "O2", PatientID: "P-abnormal", Type: "uACR", Value: fptr(12), ObservedAt: "2024-05-01"},
			{ID: "O4", PatientID: "P-abnormal", Type: "HbA1c", Value: fptr(7.1), ObservedAt: "2024-05-01"},
			{ID: "O3", PatientID: "P-missing", Type: "eGFR", Value: nil, ObservedAt: "2024-05-01"},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t, Dependencies{HealthChecks: map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	}})

	w := doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)

	degraded := newTestServer(t, Dependencies{HealthChecks: map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}})
	w = doJSON(t, degraded, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"connection refused"`)
}

func TestHandleClassify(t *testing.T) {
	server := newTestServer(t, Dependencies{})

	w := doJSON(t, server, http.MethodPost, "/api/v1/classify", classifyBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var batch domain.ScreeningBatch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
	assert.NotEmpty(t, batch.RunID)
	assert.Equal(t, testToday, batch.EvaluatedOn)
	require.Len(t, batch.Classifications, 2)

	abnormal := batch.Classifications[0]
	assert.Equal(t, "P-abnormal", abnormal.PatientID)
	assert.Equal(t, domain.RiskHigh, abnormal.RiskLevel)
	assert.Equal(t, domain.StatusAbnormalResults, abnormal.RiskStatus)

	missing := batch.Classifications[1]
	assert.Equal(t, domain.BranchMissingData, missing.Branch)
	assert.Equal(t, []domain.LabType{domain.LabEGFR, domain.LabUACR}, missing.MissingLabs)

	assert.Equal(t, 3, batch.Summary.PatientsScanned)
	assert.Equal(t, 1, batch.Summary.PatientsExcluded)
	require.Len(t, batch.Warnings, 1)
	assert.Equal(t, domain.WarnNullLabValue, batch.Warnings[0].Code)
}

func TestHandleClassify_Validation(t *testing.T) {
	server := newTestServer(t, Dependencies{})

	noToday := classifyBody()
	noToday.Today = ""
	badToday := classifyBody()
	badToday.Today = "15/06/2024"
	duplicate := classifyBody()
	duplicate.Patients = append(duplicate.Patients, duplicate.Patients[0])
	badDate := classifyBody()
	badDate.Observations[0].ObservedAt = "May 1st"

	tests := []struct {
		name  string
		body  interface{}
		code  string
		field string
	}{
		{"missing today", noToday, domain.ErrValidation, "today"},
		{"malformed today", badToday, domain.ErrValidation, "today"},
		{"duplicate patient", duplicate, domain.ErrValidation, "patients.id"},
		{"bad observation date", badDate, domain.ErrValidation, "observations.observed_at"},
		{"malformed json", `{"today": `, domain.ErrInvalidInput, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, server, http.MethodPost, "/api/v1/classify", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			apiErr := decodeError(t, w)
			assert.Equal(t, tt.code, apiErr.Code)
			if tt.field != "" {
				assert.Equal(t, tt.field, apiErr.Details)
			}
			assert.NotEmpty(t, apiErr.RequestID)
		})
	}
}

func TestHandleRank(t *testing.T) {
	server := newTestServer(t, Dependencies{})

	w := doJSON(t, server, http.MethodPost, "/api/v1/classify", classifyBody())
	require.Equal(t, http.StatusOK, w.Code)
	var batch domain.ScreeningBatch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))

	w = doJSON(t, server, http.MethodPost, "/api/v1/rank", RankRequest{
		Today:           "2024-06-15",
		Classifications: batch.Classifications,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var worklist domain.Worklist
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &worklist))
	require.Len(t, worklist.Entries, 2)
	for i := 1; i < len(worklist.Entries); i++ {
		assert.GreaterOrEqual(t, worklist.Entries[i-1].PriorityScore, worklist.Entries[i].PriorityScore)
	}
	assert.Equal(t, 1, worklist.ByAction[domain.ActionOrderLabs])
	assert.Equal(t, 1, worklist.ByAction[domain.ActionConfirmResults])
}

func TestHandleRank_ImpossibleClassification(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := newTestServer(t, Dependencies{Metrics: metrics.NewCollector(reg)})

	tests := []struct {
		name           string
		classification domain.Classification
		message        string
	}{
		{"unknown level", domain.Classification{PatientID: "P1", RiskLevel: "LOW", NextActionDate: testToday}, "unknown risk level"},
		{"medium with missing labs", domain.Classification{
			PatientID:      "P2",
			RiskLevel:      domain.RiskMedium,
			MissingLabs:    []domain.LabType{domain.LabUACR},
			NextActionDate: testToday,
		}, "MEDIUM risk with missing labs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, server, http.MethodPost, "/api/v1/rank", RankRequest{
				Today:           "2024-06-15",
				Classifications: []domain.Classification{tt.classification},
			})

			assert.Equal(t, http.StatusBadRequest, w.Code)
			apiErr := decodeError(t, w)
			assert.Equal(t, domain.ErrValidation, apiErr.Code)
			assert.Contains(t, apiErr.Message, tt.message)
			assert.Equal(t, "classifications[0]", apiErr.Details)
		})
	}

	w := doJSON(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "ckd_screening_invariant_faults_total 1")
	assert.Contains(t, w.Body.String(), "ckd_http_requests_total")
}

func TestHandleCreateScreening(t *testing.T) {
	runner := new(MockRunner)
	run := &domain.ScreeningRun{
		Batch:    &domain.ScreeningBatch{RunID: "run-1", EvaluatedOn: testToday},
		Worklist: &domain.Worklist{RunID: "run-1", EvaluatedOn: testToday},
	}
	runner.On("Run", mock.Anything, testToday).Return(run, nil).Once()
	runner.On("Run", mock.Anything, testToday.AddDate(0, 0, 1)).
		Return(nil, fmt.Errorf("failed to list patients: %w", repository.ErrSourceUnavailable)).Once()
	runner.On("Run", mock.Anything, testToday.AddDate(0, 0, 2)).
		Return(nil, fmt.Errorf("classifying patients: %w", domain.InvariantError("risk classifier", "P1", "no rule matched"))).Once()
	runner.On("Run", mock.Anything, testToday.AddDate(0, 0, 3)).
		Return(nil, errors.New("disk full")).Once()

	server := newTestServer(t, Dependencies{Runner: runner})

	w := doJSON(t, server, http.MethodPost, "/api/v1/screenings", ScreeningRequest{Today: "2024-06-15"})
	require.Equal(t, http.StatusCreated, w.Code)
	var got domain.ScreeningRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.Batch.RunID)

	w = doJSON(t, server, http.MethodPost, "/api/v1/screenings", ScreeningRequest{Today: "2024-06-16"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, domain.ErrSourceUnavailable, decodeError(t, w).Code)

	w = doJSON(t, server, http.MethodPost, "/api/v1/screenings", ScreeningRequest{Today: "2024-06-17"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, domain.ErrInvariant, decodeError(t, w).Code)

	w = doJSON(t, server, http.MethodPost, "/api/v1/screenings", ScreeningRequest{Today: "2024-06-18"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, domain.ErrInternalServer, apiErr.Code)
	assert.Empty(t, apiErr.Details, "internal errors are not leaked")

	runner.AssertExpectations(t)
}

func TestHandleCreateScreening_NotConfigured(t *testing.T) {
	server := newTestServer(t, Dependencies{})

	w := doJSON(t, server, http.MethodPost, "/api/v1/screenings", ScreeningRequest{Today: "2024-06-15"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleScreeningReads(t *testing.T) {
	runs := new(MockRuns)
	run := &domain.ScreeningRun{
		Batch:    &domain.ScreeningBatch{RunID: "run-1", EvaluatedOn: testToday},
		Worklist: &domain.Worklist{RunID: "run-1", EvaluatedOn: testToday},
	}
	runs.On("Latest", mock.Anything).Return(run, nil)
	runs.On("Get", mock.Anything, "run-1").Return(run, nil)
	runs.On("Get", mock.Anything, "nope").Return(nil, domain.ErrNotFound)
	runs.On("List", mock.Anything, 20, 0).Return([]*results.RunSummary{{RunID: "run-1"}}, nil)
	runs.On("List", mock.Anything, 5, 10).Return([]*results.RunSummary{}, nil)

	server := newTestServer(t, Dependencies{Runs: runs})

	w := doJSON(t, server, http.MethodGet, "/api/v1/screenings/latest", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"run-1"`)

	w = doJSON(t, server, http.MethodGet, "/api/v1/screenings/run-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, server, http.MethodGet, "/api/v1/screenings/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrNotFoundCode, decodeError(t, w).Code)

	w = doJSON(t, server, http.MethodGet, "/api/v1/screenings", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"limit":20`)

	w = doJSON(t, server, http.MethodGet, "/api/v1/screenings?limit=5&offset=10", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, server, http.MethodGet, "/api/v1/screenings?limit=1000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(t, server, http.MethodGet, "/api/v1/screenings?offset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	runs.AssertExpectations(t)
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(t, Dependencies{})

	w := doJSON(t, server, http.MethodOptions, "/api/v1/classify", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
