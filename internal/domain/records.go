package domain

import (
	"fmt"
	"strings"
	"time"
)

// PatientRecord is the wire form of a patient: dates are YYYY-MM-DD strings.
type PatientRecord struct {
	ID          string      `json:"id"`
	MRN         string      `json:"mrn,omitempty"`
	Name        string      `json:"name,omitempty"`
	DateOfBirth string      `json:"date_of_birth,omitempty"`
	RiskFactors RiskFactors `json:"risk_factors"`
}

// ObservationRecord is the wire form of a lab observation. ObservedAt accepts a
// YYYY-MM-DD date or an RFC 3339 timestamp.
type ObservationRecord struct {
	ID         string   `json:"id,omitempty"`
	PatientID  string   `json:"patient_id"`
	Type       string   `json:"type"`
	Value      *float64 `json:"value"`
	ObservedAt string   `json:"observed_at"`
}

// ScreeningInput is the document accepted by the file source, the HTTP API and the MCP tools.
type ScreeningInput struct {
	Patients     []PatientRecord     `json:"patients"`
	Observations []ObservationRecord `json:"observations"`
}

// ToPatient validates the record and converts it.
func (r PatientRecord) ToPatient() (Patient, error) {
	if strings.TrimSpace(r.ID) == "" {
		return Patient{}, NewValidationError("patients.id", "patient id is required", r.ID)
	}
	p := Patient{ID: r.ID, MRN: r.MRN, Name: r.Name, RiskFactors: r.RiskFactors}
	if strings.TrimSpace(r.DateOfBirth) != "" {
		dob, err := ParseDate(r.DateOfBirth)
		if err != nil {
			return Patient{}, NewValidationError("patients.date_of_birth",
				fmt.Sprintf("patient %s: expected YYYY-MM-DD", r.ID), r.DateOfBirth)
		}
		p.DateOfBirth = &dob
	}
	return p, nil
}

// ToObservation validates the record and converts it. Type is kept verbatim so
// unsupported types reach the funnel and are reported there.
func (r ObservationRecord) ToObservation() (LabObservation, error) {
	if strings.TrimSpace(r.PatientID) == "" {
		return LabObservation{}, NewValidationError("observations.patient_id", "patient id is required", r.ID)
	}
	observed, err := parseDateOrTimestamp(r.ObservedAt)
	if err != nil {
		return LabObservation{}, NewValidationError("observations.observed_at",
			fmt.Sprintf("observation %s: expected YYYY-MM-DD or RFC 3339", r.ID), r.ObservedAt)
	}
	return LabObservation{
		ID:         r.ID,
		PatientID:  r.PatientID,
		Type:       LabType(r.Type),
		Value:      r.Value,
		ObservedAt: observed,
	}, nil
}

// Decode converts the whole input, stopping at the first invalid record.
func (in ScreeningInput) Decode() ([]Patient, []LabObservation, error) {
	patients := make([]Patient, 0, len(in.Patients))
	seen := make(map[string]bool, len(in.Patients))
	for _, rec := range in.Patients {
		p, err := rec.ToPatient()
		if err != nil {
			return nil, nil, err
		}
		if seen[p.ID] {
			return nil, nil, NewValidationError("patients.id", "duplicate patient id", p.ID)
		}
		seen[p.ID] = true
		patients = append(patients, p)
	}

	observations := make([]LabObservation, 0, len(in.Observations))
	for _, rec := range in.Observations {
		obs, err := rec.ToObservation()
		if err != nil {
			return nil, nil, err
		}
		observations = append(observations, obs)
	}
	return patients, observations, nil
}

func parseDateOrTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
