package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ckd-screening-service/internal/domain"
	"github.com/ckd-screening-service/internal/metrics"
)

// ScreeningConfig tunes the funnel orchestration.
type ScreeningConfig struct {
	// Workers bounds the number of patients evaluated concurrently.
	Workers int
	// MemoSize is the number of per-patient outcomes kept in the LRU memo; 0 disables it.
	MemoSize int
}

// patientOutcome is the memoized result of running one patient through the funnel.
type patientOutcome struct {
	Triage         domain.TriageResult
	Classification *domain.Classification
	Warnings       []domain.DataQualityWarning
}

// ScreeningService runs the funnel: resolver, triage, router, classifier, ranker.
type ScreeningService struct {
	resolver   *LabCompletenessResolver
	triage     *PopulationTriageFilter
	router     *LabSufficiencyRouter
	classifier *RiskClassifier
	ranker     *PriorityRanker
	trend      *AlbuminuriaTrendAnalyzer

	memo    *lru.Cache[string, patientOutcome]
	workers int
	metrics *metrics.Collector
	logger  *logrus.Logger
}

// NewScreeningService creates a new screening service. collector may be nil.
func NewScreeningService(config ScreeningConfig, collector *metrics.Collector, logger *logrus.Logger) (*ScreeningService, error) {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}

	s := &ScreeningService{
		resolver:   NewLabCompletenessResolver(),
		triage:     NewPopulationTriageFilter(),
		router:     NewLabSufficiencyRouter(),
		classifier: NewRiskClassifier(),
		ranker:     NewPriorityRanker(),
		trend:      NewAlbuminuriaTrendAnalyzer(),
		workers:    config.Workers,
		metrics:    collector,
		logger:     logger,
	}

	if config.MemoSize > 0 {
		memo, err := lru.New[string, patientOutcome](config.MemoSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create outcome memo: %w", err)
		}
		s.memo = memo
	}

	return s, nil
}

// Classify evaluates every patient on the given day and returns the classifications of
// the qualifying ones in input order. Non-qualifying patients are excluded, data-quality
// problems are returned as warnings, and an internal-logic fault aborts the run.
func (s *ScreeningService) Classify(ctx context.Context, patients []domain.Patient, observations []domain.LabObservation, today time.Time) (*domain.ScreeningBatch, error) {
	start := time.Now()
	day := domain.CalendarDate(today)

	byPatient := make(map[string][]domain.LabObservation, len(patients))
	for _, obs := range observations {
		byPatient[obs.PatientID] = append(byPatient[obs.PatientID], obs)
	}

	outcomes := make([]patientOutcome, len(patients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, patient := range patients {
		i, patient := i, patient
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := s.evaluate(patient, byPatient[patient.ID], day)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			s.metrics.ObserveFault()
			s.logger.WithError(err).Error("Screening run aborted by internal-logic fault")
		}
		return nil, fmt.Errorf("classifying patients: %w", err)
	}

	batch := &domain.ScreeningBatch{
		RunID:           uuid.NewString(),
		EvaluatedOn:     day,
		Classifications: make([]domain.Classification, 0, len(patients)),
		Warnings:        []domain.DataQualityWarning{},
	}
	for _, outcome := range outcomes {
		batch.Warnings = append(batch.Warnings, outcome.Warnings...)
		if outcome.Classification != nil {
			batch.Classifications = append(batch.Classifications, *outcome.Classification)
		}
	}
	batch.Summary = summarize(len(patients), batch)

	for _, w := range batch.Warnings {
		s.logger.WithFields(logrus.Fields{
			"patient_id":     w.PatientID,
			"observation_id": w.ObservationID,
			"lab_type":       w.LabType,
			"code":           w.Code,
		}).Warn(w.Message)
	}

	elapsed := time.Since(start)
	s.metrics.ObserveBatch(batch, elapsed)
	s.logger.WithFields(logrus.Fields{
		"run_id":       batch.RunID,
		"evaluated_on": day.Format(domain.DateLayout),
		"scanned":      batch.Summary.PatientsScanned,
		"qualified":    batch.Summary.PatientsQualified,
		"warnings":     batch.Summary.WarningCount,
		"duration_ms":  elapsed.Milliseconds(),
	}).Info("Completed screening classification")

	return batch, nil
}

// Rank orders a batch's classifications into a worklist.
func (s *ScreeningService) Rank(ctx context.Context, batch *domain.ScreeningBatch) (*domain.Worklist, error) {
	entries, err := s.ranker.Rank(batch.Classifications, batch.EvaluatedOn)
	if err != nil {
		s.metrics.ObserveFault()
		s.logger.WithError(err).WithField("run_id", batch.RunID).Error("Ranking aborted by internal-logic fault")
		return nil, fmt.Errorf("ranking classifications: %w", err)
	}

	worklist := &domain.Worklist{
		RunID:       batch.RunID,
		EvaluatedOn: batch.EvaluatedOn,
		GeneratedAt: time.Now().UTC(),
		Entries:     entries,
		ByAction:    make(map[domain.ActionCategory]int, 3),
	}
	for _, e := range entries {
		worklist.ByAction[e.ActionCategory]++
	}

	s.metrics.ObserveWorklist(worklist)
	s.logger.WithFields(logrus.Fields{
		"run_id":  batch.RunID,
		"entries": len(entries),
	}).Info("Ranked screening worklist")

	return worklist, nil
}

// RankClassifications ranks classifications supplied by a caller rather than produced
// by Classify. Combinations the classifier can never produce are a validation error.
func (s *ScreeningService) RankClassifications(ctx context.Context, classifications []domain.Classification, today time.Time) (*domain.Worklist, error) {
	for i, c := range classifications {
		if problem := rankableProblem(c); problem != "" {
			s.logger.WithFields(logrus.Fields{
				"patient_id": c.PatientID,
				"index":      i,
			}).Warn("Rejected impossible classification")
			return nil, domain.NewValidationError(fmt.Sprintf("classifications[%d]", i), problem, c.PatientID)
		}
	}
	return s.Rank(ctx, &domain.ScreeningBatch{
		RunID:           uuid.NewString(),
		EvaluatedOn:     domain.CalendarDate(today),
		Classifications: classifications,
	})
}

// evaluate runs one patient through the funnel, consulting the memo first.
func (s *ScreeningService) evaluate(patient domain.Patient, observations []domain.LabObservation, today time.Time) (patientOutcome, error) {
	var key string
	if s.memo != nil {
		key = outcomeKey(patient, observations, today)
		if cached, ok := s.memo.Get(key); ok {
			return cloneOutcome(cached), nil
		}
	}

	outcome, err := s.runFunnel(patient, observations, today)
	if err != nil {
		return patientOutcome{}, err
	}

	if s.memo != nil {
		s.memo.Add(key, cloneOutcome(outcome))
	}
	return outcome, nil
}

func (s *ScreeningService) runFunnel(patient domain.Patient, observations []domain.LabObservation, today time.Time) (patientOutcome, error) {
	snapshot, warnings := s.resolver.Resolve(patient.ID, observations, today)
	if patient.DateOfBirth == nil {
		warnings = append(warnings, domain.DataQualityWarning{
			PatientID: patient.ID,
			Code:      domain.WarnMissingDateOfBirth,
			Message:   "date of birth missing; age risk factor treated as false",
		})
	}

	triage := s.triage.Triage(patient, today)
	outcome := patientOutcome{Triage: triage, Warnings: warnings}
	if !triage.Qualifies {
		return outcome, nil
	}

	decision, err := s.router.Route(triage, snapshot)
	if err != nil {
		return patientOutcome{}, err
	}

	classification, err := s.classifier.Classify(triage, decision, snapshot, today)
	if err != nil {
		return patientOutcome{}, err
	}
	classification.Albuminuria = s.trend.Analyze(observations)

	outcome.Classification = &classification
	return outcome, nil
}

func summarize(scanned int, batch *domain.ScreeningBatch) domain.ScreeningSummary {
	summary := domain.ScreeningSummary{
		PatientsScanned:     scanned,
		PatientsQualified:   len(batch.Classifications),
		PatientsExcluded:    scanned - len(batch.Classifications),
		ByBranch:            make(map[domain.Branch]int, 2),
		ByRiskLevel:         make(map[domain.RiskLevel]int, 2),
		ByPrimaryRiskFactor: make(map[string]int),
		WarningCount:        len(batch.Warnings),
	}
	for _, c := range batch.Classifications {
		summary.ByBranch[c.Branch]++
		summary.ByRiskLevel[c.RiskLevel]++
		summary.ByPrimaryRiskFactor[c.PrimaryRiskFactor]++
	}
	if scanned > 0 {
		summary.QualifiedPercentage = float64(int(float64(summary.PatientsQualified)/float64(scanned)*1000+0.5)) / 10
	}
	return summary
}

// outcomeKey fingerprints everything a patient's outcome depends on. Values are
// written as their IEEE-754 bits so NaN and infinities still yield distinct keys.
func outcomeKey(patient domain.Patient, observations []domain.LabObservation, today time.Time) string {
	h := sha256.New()
	field := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}

	field(today.Format(domain.DateLayout))
	field(patient.ID)
	field(patient.MRN)
	field(patient.Name)
	if patient.DateOfBirth != nil {
		field(patient.DateOfBirth.UTC().Format(time.RFC3339Nano))
	} else {
		field("")
	}
	rf := patient.RiskFactors
	for _, b := range []bool{rf.Diabetes, rf.Hypertension, rf.HeartFailure, rf.CAD, rf.Obesity, rf.CVDHistory, rf.FamilyHistoryESRD} {
		field(strconv.FormatBool(b))
	}

	field(strconv.Itoa(len(observations)))
	for _, obs := range observations {
		field(obs.ID)
		field(obs.PatientID)
		field(string(obs.Type))
		field(obs.ObservedAt.UTC().Format(time.RFC3339Nano))
		if obs.Value != nil {
			field(strconv.FormatUint(math.Float64bits(*obs.Value), 16))
		} else {
			field("null")
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// cloneOutcome copies every slice and pointer so callers never share memo state.
func cloneOutcome(o patientOutcome) patientOutcome {
	out := patientOutcome{
		Triage:   o.Triage,
		Warnings: append([]domain.DataQualityWarning(nil), o.Warnings...),
	}
	if o.Triage.Age != nil {
		age := *o.Triage.Age
		out.Triage.Age = &age
	}
	if o.Classification != nil {
		c := cloneClassification(*o.Classification)
		out.Classification = &c
	}
	return out
}

func cloneClassification(c domain.Classification) domain.Classification {
	out := c
	out.MissingLabs = append([]domain.LabType{}, c.MissingLabs...)
	if c.EGFR != nil {
		v := *c.EGFR
		out.EGFR = &v
	}
	if c.UACR != nil {
		v := *c.UACR
		out.UACR = &v
	}
	if c.Albuminuria != nil {
		trend := *c.Albuminuria
		out.Albuminuria = &trend
	}
	return out
}
