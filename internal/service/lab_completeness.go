package service

import (
	"fmt"
	"time"

	"github.com/ckd-screening-service/internal/domain"
)

// LabCompletenessResolver picks, per required lab type, the most recent usable
// observation inside that type's lookback window.
type LabCompletenessResolver struct{}

// NewLabCompletenessResolver creates a new resolver
func NewLabCompletenessResolver() *LabCompletenessResolver {
	return &LabCompletenessResolver{}
}

// Resolve builds the completeness snapshot for one patient.
//
// An observation is recent iff its calendar date is on or after today minus the
// type's window. When several recent observations share the latest date the highest
// value wins, so the result does not depend on input order. Observations with an
// unsupported type or a null, non-finite or negative value never count toward presence
// and are reported as data-quality warnings.
func (r *LabCompletenessResolver) Resolve(patientID string, observations []domain.LabObservation, today time.Time) (domain.LabCompletenessSnapshot, []domain.DataQualityWarning) {
	day := domain.CalendarDate(today)

	snapshot := domain.LabCompletenessSnapshot{
		PatientID:   patientID,
		EvaluatedOn: day,
		Readings:    make(map[domain.LabType]domain.LabReading, len(domain.RequiredLabTypes)),
	}
	for _, t := range domain.RequiredLabTypes {
		snapshot.Readings[t] = domain.LabReading{Type: t}
	}

	var warnings []domain.DataQualityWarning
	for _, obs := range observations {
		labType, value, warning := usableObservation(patientID, obs)
		if warning != nil {
			warnings = append(warnings, *warning)
			continue
		}

		observed := domain.CalendarDate(obs.ObservedAt)
		cutoff := domain.AddMonths(day, -labType.LookbackMonths())
		if observed.Before(cutoff) {
			continue
		}

		current := snapshot.Readings[labType]
		if current.Present {
			if observed.Before(*current.ObservedAt) {
				continue
			}
			if observed.Equal(*current.ObservedAt) && value <= *current.Value {
				continue
			}
		}

		v := value
		d := observed
		snapshot.Readings[labType] = domain.LabReading{
			Type:       labType,
			Value:      &v,
			ObservedAt: &d,
			Present:    true,
		}
	}

	return snapshot, warnings
}

// usableObservation validates a raw observation. It returns a warning instead of a
// value when the observation must be ignored.
func usableObservation(patientID string, obs domain.LabObservation) (domain.LabType, float64, *domain.DataQualityWarning) {
	labType, ok := domain.ParseLabType(string(obs.Type))
	if !ok {
		return "", 0, &domain.DataQualityWarning{
			PatientID:     patientID,
			ObservationID: obs.ID,
			LabType:       obs.Type,
			Code:          domain.WarnUnsupportedLabType,
			Message:       fmt.Sprintf("unsupported observation type %q ignored", obs.Type),
		}
	}

	if obs.Value == nil {
		return "", 0, &domain.DataQualityWarning{
			PatientID:     patientID,
			ObservationID: obs.ID,
			LabType:       labType,
			Code:          domain.WarnNullLabValue,
			Message:       fmt.Sprintf("%s observation has no value; treated as absent", labType),
		}
	}

	if !obs.HasFiniteValue() {
		return "", 0, &domain.DataQualityWarning{
			PatientID:     patientID,
			ObservationID: obs.ID,
			LabType:       labType,
			Code:          domain.WarnNonFiniteLabValue,
			Message:       fmt.Sprintf("%s observation has non-finite value %v; treated as absent", labType, *obs.Value),
		}
	}

	if *obs.Value < 0 {
		return "", 0, &domain.DataQualityWarning{
			PatientID:     patientID,
			ObservationID: obs.ID,
			LabType:       labType,
			Code:          domain.WarnNegativeLabValue,
			Message:       fmt.Sprintf("%s observation has negative value %v; treated as absent", labType, *obs.Value),
		}
	}

	return labType, *obs.Value, nil
}
