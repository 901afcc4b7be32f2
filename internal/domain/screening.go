package domain

import (
	"time"
)

// LabReading is the resolved state of one lab type within its lookback window.
type LabReading struct {
	Type       LabType    `json:"type"`
	Value      *float64   `json:"value"`
	ObservedAt *time.Time `json:"observed_at"`
	Present    bool       `json:"present"`
}

// LabCompletenessSnapshot is derived per patient on every run and never persisted
// as a source of truth.
type LabCompletenessSnapshot struct {
	PatientID   string                 `json:"patient_id"`
	EvaluatedOn time.Time              `json:"evaluated_on"`
	Readings    map[LabType]LabReading `json:"readings"`
}

// Reading returns the reading for t, or an absent reading when none was resolved.
func (s LabCompletenessSnapshot) Reading(t LabType) LabReading {
	if r, ok := s.Readings[t]; ok {
		return r
	}
	return LabReading{Type: t}
}

// Present reports whether a recent value exists for t.
func (s LabCompletenessSnapshot) Present(t LabType) bool {
	return s.Reading(t).Present
}

// Value returns the recent value for t and whether it is present.
func (s LabCompletenessSnapshot) Value(t LabType) (float64, bool) {
	r := s.Reading(t)
	if !r.Present || r.Value == nil {
		return 0, false
	}
	return *r.Value, true
}

// TriageResult is the population filter's verdict on a single patient.
type TriageResult struct {
	Patient           Patient `json:"patient"`
	Age               *int    `json:"age,omitempty"`
	Qualifies         bool    `json:"qualifies"`
	PrimaryRiskFactor string  `json:"primary_risk_factor"`
	RiskFactorCount   int     `json:"risk_factor_count"`
}

// BranchDecision is the lab-sufficiency router's output.
type BranchDecision struct {
	Branch      Branch    `json:"branch"`
	MissingLabs []LabType `json:"missing_labs"`
}

// AlbuminuriaTrend compares the two most recent uACR values of a patient.
type AlbuminuriaTrend struct {
	CurrentValue     float64             `json:"current_value"`
	PreviousValue    float64             `json:"previous_value"`
	CurrentDate      time.Time           `json:"current_date"`
	PreviousDate     time.Time           `json:"previous_date"`
	DaysBetween      int                 `json:"days_between"`
	PercentChange    float64             `json:"percent_change"`
	CurrentCategory  AlbuminuriaCategory `json:"current_category"`
	PreviousCategory AlbuminuriaCategory `json:"previous_category"`
	Worsening        WorseningLevel      `json:"worsening"`
	IsWorsening      bool                `json:"is_worsening"`
}

// Classification is fully derived and recomputed on every run.
type Classification struct {
	PatientID         string            `json:"patient_id"`
	PatientName       string            `json:"patient_name,omitempty"`
	MRN               string            `json:"mrn,omitempty"`
	Branch            Branch            `json:"branch"`
	RiskLevel         RiskLevel         `json:"risk_level"`
	RiskStatus        string            `json:"risk_status"`
	AdvisoryFlag      string            `json:"advisory_flag"`
	Recommendation    string            `json:"recommendation"`
	MissingLabs       []LabType         `json:"missing_labs"`
	NextActionDate    time.Time         `json:"next_action_date"`
	RiskFactorCount   int               `json:"risk_factor_count"`
	PrimaryRiskFactor string            `json:"primary_risk_factor"`
	EGFR              *float64          `json:"egfr,omitempty"`
	UACR              *float64          `json:"uacr,omitempty"`
	Albuminuria       *AlbuminuriaTrend `json:"albuminuria_trend,omitempty"`
	EvaluatedOn       time.Time         `json:"evaluated_on"`
}

// PriorityEntry is one ephemeral worklist row.
type PriorityEntry struct {
	Classification Classification `json:"classification"`
	PriorityScore  int            `json:"priority_score"`
	ActionCategory ActionCategory `json:"action_category"`
}

// Data-quality warning codes.
const (
	WarnNegativeLabValue   = "NEGATIVE_LAB_VALUE"
	WarnNullLabValue       = "NULL_LAB_VALUE"
	WarnNonFiniteLabValue  = "NON_FINITE_LAB_VALUE"
	WarnUnsupportedLabType = "UNSUPPORTED_LAB_TYPE"
	WarnMissingDateOfBirth = "MISSING_DATE_OF_BIRTH"
)

// DataQualityWarning is a non-fatal input problem surfaced to the caller.
type DataQualityWarning struct {
	PatientID     string  `json:"patient_id"`
	ObservationID string  `json:"observation_id,omitempty"`
	LabType       LabType `json:"lab_type,omitempty"`
	Code          string  `json:"code"`
	Message       string  `json:"message"`
}

// ScreeningSummary aggregates one classification run.
type ScreeningSummary struct {
	PatientsScanned     int               `json:"patients_scanned"`
	PatientsQualified   int               `json:"patients_qualified"`
	PatientsExcluded    int               `json:"patients_excluded"`
	QualifiedPercentage float64           `json:"qualified_percentage"`
	ByBranch            map[Branch]int    `json:"by_branch"`
	ByRiskLevel         map[RiskLevel]int `json:"by_risk_level"`
	ByPrimaryRiskFactor map[string]int    `json:"by_primary_risk_factor"`
	WarningCount        int               `json:"warning_count"`
}

// ScreeningBatch is the output of one Classify call.
type ScreeningBatch struct {
	RunID           string               `json:"run_id"`
	EvaluatedOn     time.Time            `json:"evaluated_on"`
	Classifications []Classification     `json:"classifications"`
	Warnings        []DataQualityWarning `json:"warnings"`
	Summary         ScreeningSummary     `json:"summary"`
}

// Worklist is the ranked, actionable output of a run.
type Worklist struct {
	RunID       string                 `json:"run_id"`
	EvaluatedOn time.Time              `json:"evaluated_on"`
	GeneratedAt time.Time              `json:"generated_at"`
	Entries     []PriorityEntry        `json:"entries"`
	ByAction    map[ActionCategory]int `json:"by_action"`
}

// ScreeningRun bundles a batch with its worklist for result sinks.
type ScreeningRun struct {
	Batch    *ScreeningBatch `json:"batch"`
	Worklist *Worklist       `json:"worklist"`
}
