package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/ckd-screening-service/internal/domain"
	"github.com/ckd-screening-service/internal/export"
	"github.com/ckd-screening-service/internal/repository"
	"github.com/ckd-screening-service/internal/results"
	"github.com/ckd-screening-service/internal/service"
)

const (
	defaultWorklistLimit = 25
	defaultRunListLimit  = 20
	maxRunListLimit      = 200
)

// ScreenPatientsResult is the screen_patients response.
type ScreenPatientsResult struct {
	RunID       string                        `json:"run_id"`
	EvaluatedOn string                        `json:"evaluated_on"`
	Summary     domain.ScreeningSummary       `json:"summary"`
	ByAction    map[domain.ActionCategory]int `json:"by_action"`
	Entries     []domain.PriorityEntry        `json:"entries"`
	Truncated   bool                          `json:"truncated"`
	ExportPath  string                        `json:"export_path,omitempty"`
}

// ListScreeningRunsResult is the list_screening_runs response.
type ListScreeningRunsResult struct {
	Runs   []*results.RunSummary `json:"runs"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

func (s *Server) handleClassifyPatients(ctx context.Context, req *mcp.CallToolRequest, params ClassifyPatientsParams) (*mcp.CallToolResult, any, error) {
	today, err := parseToday(params.Today)
	if err != nil {
		return s.toolError("classify_patients", err), nil, nil
	}

	patients, observations, err := domain.ScreeningInput{
		Patients:     params.Patients,
		Observations: params.Observations,
	}.Decode()
	if err != nil {
		return s.toolError("classify_patients", err), nil, nil
	}

	batch, err := s.screening.Classify(ctx, patients, observations, today)
	if err != nil {
		return s.toolError("classify_patients", err), nil, nil
	}
	return jsonResult(batch)
}

func (s *Server) handleRankWorklist(ctx context.Context, req *mcp.CallToolRequest, params RankWorklistParams) (*mcp.CallToolResult, any, error) {
	today, err := parseToday(params.Today)
	if err != nil {
		return s.toolError("rank_worklist", err), nil, nil
	}

	worklist, err := s.screening.RankClassifications(ctx, params.Classifications, today)
	if err != nil {
		return s.toolError("rank_worklist", err), nil, nil
	}
	return jsonResult(worklist)
}

func (s *Server) handleScreenPatients(ctx context.Context, req *mcp.CallToolRequest, params ScreenPatientsParams) (*mcp.CallToolResult, any, error) {
	today, err := parseToday(params.Today)
	if err != nil {
		return s.toolError("screen_patients", err), nil, nil
	}

	inputFile := params.InputFile
	if inputFile == "" {
		inputFile = s.config.PatientsFile
	}
	if inputFile == "" {
		return s.toolError("screen_patients",
			domain.NewValidationError("input_file", "no input file given and CKD_PATIENTS_FILE is not set", nil)), nil, nil
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultWorklistLimit
	}

	source := repository.NewJSONFileSource(inputFile, s.logger)
	runner := service.NewScreeningRunner(source, s.screening, s.store, nil, s.logger)

	run, err := runner.Run(ctx, today)
	if err != nil {
		return s.toolError("screen_patients", err), nil, nil
	}

	result := &ScreenPatientsResult{
		RunID:       run.Batch.RunID,
		EvaluatedOn: run.Batch.EvaluatedOn.Format(domain.DateLayout),
		Summary:     run.Batch.Summary,
		ByAction:    run.Worklist.ByAction,
		Entries:     run.Worklist.Entries,
	}
	if len(result.Entries) > limit {
		result.Entries = result.Entries[:limit]
		result.Truncated = true
	}

	if params.Export != "" {
		path, err := s.exportRun(run, params.Export)
		if err != nil {
			return s.toolError("screen_patients", err), nil, nil
		}
		result.ExportPath = path
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":   result.RunID,
		"input":    inputFile,
		"worklist": len(run.Worklist.Entries),
		"exported": result.ExportPath,
	}).Info("Screening run completed")

	return jsonResult(result)
}

func (s *Server) handleGetScreeningRun(ctx context.Context, req *mcp.CallToolRequest, params GetScreeningRunParams) (*mcp.CallToolResult, any, error) {
	var (
		run *domain.ScreeningRun
		err error
	)
	if params.RunID == "" {
		run, err = s.store.Latest(ctx)
	} else {
		run, err = s.store.Get(ctx, params.RunID)
	}
	if err != nil {
		return s.toolError("get_screening_run", err), nil, nil
	}
	return jsonResult(run)
}

func (s *Server) handleListScreeningRuns(ctx context.Context, req *mcp.CallToolRequest, params ListScreeningRunsParams) (*mcp.CallToolResult, any, error) {
	limit := params.Limit
	if limit == 0 {
		limit = defaultRunListLimit
	}
	if limit < 0 || limit > maxRunListLimit {
		return s.toolError("list_screening_runs", domain.NewValidationError("limit", "must be between 1 and 200", limit)), nil, nil
	}
	if params.Offset < 0 {
		return s.toolError("list_screening_runs", domain.NewValidationError("offset", "must be non-negative", params.Offset)), nil, nil
	}

	runs, err := s.store.List(ctx, limit, params.Offset)
	if err != nil {
		return s.toolError("list_screening_runs", err), nil, nil
	}
	return jsonResult(&ListScreeningRunsResult{Runs: runs, Limit: limit, Offset: params.Offset})
}

// exportRun writes the worklist into the export directory and returns the file path.
func (s *Server) exportRun(run *domain.ScreeningRun, format string) (string, error) {
	var ext string
	switch format {
	case "text":
		ext = "txt"
	case "xlsx":
		ext = "xlsx"
	default:
		return "", domain.NewValidationError("export", "expected text or xlsx", format)
	}

	name := fmt.Sprintf("worklist-%s-%s.%s", run.Batch.EvaluatedOn.Format(domain.DateLayout), run.Batch.RunID, ext)
	path := filepath.Join(s.config.ExportDir(), name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if format == "xlsx" {
		err = export.WriteWorklistXLSX(f, run.Worklist)
	} else {
		err = export.WriteWorklistText(f, run.Batch, run.Worklist)
	}
	if err != nil {
		return "", fmt.Errorf("failed to write %s export: %w", format, err)
	}
	return path, nil
}

func parseToday(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, domain.NewValidationError("today", "evaluation date is required", raw)
	}
	today, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, domain.NewValidationError("today", "expected YYYY-MM-DD", raw)
	}
	return today, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// toolError reports a failure as a tool result so the client sees the error code.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	screeningErr := classifyError(err)

	entry := s.logger.WithError(err).WithFields(logrus.Fields{"tool": tool, "code": screeningErr.Code})
	switch screeningErr.Code {
	case domain.ErrInvariant, domain.ErrInternalServer:
		entry.Error("Tool call failed")
	default:
		entry.Warn("Tool call rejected")
	}

	data, _ := json.Marshal(map[string]*domain.ScreeningError{"error": screeningErr})
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}

func classifyError(err error) *domain.ScreeningError {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return domain.NewScreeningError(domain.ErrValidation, verr.Message, verr.Field, "")
	case errors.Is(err, domain.ErrNotFound):
		return domain.NewScreeningError(domain.ErrNotFoundCode, "screening run not found", "", "")
	case errors.Is(err, domain.ErrInvariantViolation):
		return domain.NewScreeningError(domain.ErrInvariant, "screening aborted by an internal-logic fault", err.Error(), "")
	case errors.Is(err, repository.ErrSourceUnavailable), errors.Is(err, os.ErrNotExist):
		return domain.NewScreeningError(domain.ErrSourceUnavailable, "screening source unavailable", err.Error(), "")
	default:
		return domain.NewScreeningError(domain.ErrInternalServer, "internal error", err.Error(), "")
	}
}
