package domain

import (
	"math"
	"time"
)

// RiskFactors is the boolean risk-factor set recorded on a patient.
type RiskFactors struct {
	Diabetes          bool `json:"diabetes"`
	Hypertension      bool `json:"hypertension"`
	HeartFailure      bool `json:"heart_failure"`
	CAD               bool `json:"cad"`
	Obesity           bool `json:"obesity"`
	CVDHistory        bool `json:"cvd_history"`
	FamilyHistoryESRD bool `json:"family_history_esrd"`
}

// Patient is immutable for the duration of a classification run.
type Patient struct {
	ID          string      `json:"id"`
	MRN         string      `json:"mrn,omitempty"`
	Name        string      `json:"name,omitempty"`
	DateOfBirth *time.Time  `json:"date_of_birth,omitempty"`
	RiskFactors RiskFactors `json:"risk_factors"`
}

// AgeOn returns the patient's age in completed years on the given day.
// The second return is false when no date of birth is recorded.
func (p Patient) AgeOn(today time.Time) (int, bool) {
	if p.DateOfBirth == nil {
		return 0, false
	}
	dob := CalendarDate(*p.DateOfBirth)
	day := CalendarDate(today)

	age := day.Year() - dob.Year()
	if day.Month() < dob.Month() || (day.Month() == dob.Month() && day.Day() < dob.Day()) {
		age--
	}
	return age, true
}

// LabObservation is a single append-only lab result. A nil Value is a null result.
type LabObservation struct {
	ID         string    `json:"id,omitempty"`
	PatientID  string    `json:"patient_id"`
	Type       LabType   `json:"type"`
	Value      *float64  `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// HasFiniteValue reports whether the observation carries a real number.
// Null, NaN and infinite values are never usable.
func (o LabObservation) HasFiniteValue() bool {
	return o.Value != nil && !math.IsNaN(*o.Value) && !math.IsInf(*o.Value, 0)
}
