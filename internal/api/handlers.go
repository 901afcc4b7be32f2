package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ckd-screening-service/internal/domain"
	"github.com/ckd-screening-service/internal/middleware"
	"github.com/ckd-screening-service/internal/repository"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// ClassifyRequest carries the patients and observations to classify.
type ClassifyRequest struct {
	Today        string                     `json:"today"`
	Patients     []domain.PatientRecord     `json:"patients"`
	Observations []domain.ObservationRecord `json:"observations"`
}

// RankRequest carries classifications produced by an earlier classify call.
type RankRequest struct {
	Today           string                  `json:"today"`
	Classifications []domain.Classification `json:"classifications"`
}

// ScreeningRequest starts a run against the configured source.
type ScreeningRequest struct {
	Today string `json:"today"`
}

// ErrorResponse wraps every error body.
type ErrorResponse struct {
	Error *domain.ScreeningError `json:"error"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	components := make(map[string]string, len(s.deps.HealthChecks))
	for name, check := range s.deps.HealthChecks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC(),
		"version":    "1.0.0",
	})
}

func (s *Server) handleClassify(c *gin.Context) {
	var req ClassifyRequest
	if !s.bind(c, &req) {
		return
	}
	today, ok := s.parseToday(c, req.Today)
	if !ok {
		return
	}

	patients, observations, err := domain.ScreeningInput{
		Patients:     req.Patients,
		Observations: req.Observations,
	}.Decode()
	if err != nil {
		s.writeError(c, err)
		return
	}

	batch, err := s.deps.Screening.Classify(c.Request.Context(), patients, observations, today)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) handleRank(c *gin.Context) {
	var req RankRequest
	if !s.bind(c, &req) {
		return
	}
	today, ok := s.parseToday(c, req.Today)
	if !ok {
		return
	}

	worklist, err := s.deps.Screening.RankClassifications(c.Request.Context(), req.Classifications, today)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, worklist)
}

func (s *Server) handleCreateScreening(c *gin.Context) {
	if s.deps.Runner == nil {
		s.unavailable(c, "screening runs are not configured")
		return
	}
	var req ScreeningRequest
	if !s.bind(c, &req) {
		return
	}
	today, ok := s.parseToday(c, req.Today)
	if !ok {
		return
	}

	run, err := s.deps.Runner.Run(c.Request.Context(), today)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (s *Server) handleListScreenings(c *gin.Context) {
	if s.deps.Runs == nil {
		s.unavailable(c, "results store is not configured")
		return
	}
	limit, err := queryInt(c, "limit", defaultListLimit)
	if err != nil || limit <= 0 || limit > maxListLimit {
		s.writeError(c, domain.NewValidationError("limit", "must be between 1 and 200", c.Query("limit")))
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		s.writeError(c, domain.NewValidationError("offset", "must be a non-negative integer", c.Query("offset")))
		return
	}

	runs, err := s.deps.Runs.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "limit": limit, "offset": offset})
}

func (s *Server) handleLatestScreening(c *gin.Context) {
	if s.deps.Runs == nil {
		s.unavailable(c, "results store is not configured")
		return
	}
	run, err := s.deps.Runs.Latest(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetScreening(c *gin.Context) {
	if s.deps.Runs == nil {
		s.unavailable(c, "results store is not configured")
		return
	}
	run, err := s.deps.Runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.respond(c, http.StatusBadRequest, domain.ErrInvalidInput, "malformed request body", err.Error())
		return false
	}
	return true
}

// parseToday requires an explicit evaluation date; the server clock is never used.
func (s *Server) parseToday(c *gin.Context, raw string) (time.Time, bool) {
	if raw == "" {
		s.writeError(c, domain.NewValidationError("today", "evaluation date is required", raw))
		return time.Time{}, false
	}
	today, err := domain.ParseDate(raw)
	if err != nil {
		s.writeError(c, domain.NewValidationError("today", "expected YYYY-MM-DD", raw))
		return time.Time{}, false
	}
	return today, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) unavailable(c *gin.Context, message string) {
	s.respond(c, http.StatusServiceUnavailable, domain.ErrSourceUnavailable, message, "")
}

// writeError maps an error onto a status code and error code.
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		s.respond(c, http.StatusBadRequest, domain.ErrValidation, verr.Message, verr.Field)
	case errors.Is(err, domain.ErrNotFound):
		s.respond(c, http.StatusNotFound, domain.ErrNotFoundCode, "screening run not found", "")
	case errors.Is(err, domain.ErrInvariantViolation):
		s.logger.WithError(err).WithField("correlation_id", c.GetString(middleware.CorrelationIDKey)).
			Error("Screening aborted by internal-logic fault")
		s.respond(c, http.StatusInternalServerError, domain.ErrInvariant, "screening aborted by an internal-logic fault", err.Error())
	case errors.Is(err, repository.ErrSourceUnavailable):
		s.respond(c, http.StatusServiceUnavailable, domain.ErrSourceUnavailable, "screening source unavailable", "")
	case errors.Is(err, context.DeadlineExceeded):
		s.respond(c, http.StatusRequestTimeout, domain.ErrRequestTimeoutCode, "request timed out", "")
	default:
		s.logger.WithError(err).WithField("correlation_id", c.GetString(middleware.CorrelationIDKey)).
			Error("Request failed")
		s.respond(c, http.StatusInternalServerError, domain.ErrInternalServer, "internal server error", "")
	}
}

func (s *Server) respond(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: domain.NewScreeningError(code, message, details, c.GetString(middleware.CorrelationIDKey)),
	})
}
