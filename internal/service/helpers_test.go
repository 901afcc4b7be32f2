package service

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ckd-screening-service/internal/domain"
)

// testToday is the evaluation day used across the service tests.
var testToday = date("2024-06-15")

func date(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func fptr(v float64) *float64 {
	return &v
}

func datePtr(s string) *time.Time {
	t := date(s)
	return &t
}

func observation(id, patientID string, labType domain.LabType, value float64, observed string) domain.LabObservation {
	return domain.LabObservation{
		ID:         id,
		PatientID:  patientID,
		Type:       labType,
		Value:      fptr(value),
		ObservedAt: date(observed),
	}
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newTestScreeningService(t *testing.T, workers, memoSize int) *ScreeningService {
	t.Helper()
	svc, err := NewScreeningService(ScreeningConfig{Workers: workers, MemoSize: memoSize}, nil, newTestLogger())
	require.NoError(t, err)
	return svc
}

// snapshotWith builds a completeness snapshot with the given labs present on testToday.
func snapshotWith(values map[domain.LabType]float64) domain.LabCompletenessSnapshot {
	snapshot := domain.LabCompletenessSnapshot{
		PatientID:   "p",
		EvaluatedOn: testToday,
		Readings:    map[domain.LabType]domain.LabReading{},
	}
	for labType, v := range values {
		value := v
		observed := testToday
		snapshot.Readings[labType] = domain.LabReading{Type: labType, Value: &value, ObservedAt: &observed, Present: true}
	}
	return snapshot
}

func triageFor(p domain.Patient) domain.TriageResult {
	return NewPopulationTriageFilter().Triage(p, testToday)
}
