// Package domain contains the core entities of the kidney-disease screening funnel:
// patients and their lab observations, the derived per-stage snapshots, and the
// classifications and worklist rows the funnel emits.
//
// Thresholds follow the KDIGO 2012 CKD guideline (eGFR G-categories and
// albuminuria A-categories).
package domain

import (
	"errors"
	"strings"
	"time"
)

// LabType identifies a laboratory measurement the funnel understands.
type LabType string

const (
	LabEGFR        LabType = "eGFR"
	LabUACR        LabType = "uACR"
	LabHbA1c       LabType = "HbA1c"
	LabBPSystolic  LabType = "BP_systolic"
	LabBPDiastolic LabType = "BP_diastolic"
)

// RequiredLabTypes lists every lab type tracked in a completeness snapshot.
var RequiredLabTypes = []LabType{LabEGFR, LabUACR, LabHbA1c, LabBPSystolic, LabBPDiastolic}

// ParseLabType maps a free-form type name onto a supported LabType.
// Matching is case-insensitive; the second return is false for unsupported names.
func ParseLabType(name string) (LabType, bool) {
	for _, t := range RequiredLabTypes {
		if strings.EqualFold(strings.TrimSpace(name), string(t)) {
			return t, true
		}
	}
	return "", false
}

// LookbackMonths returns how far back an observation of this type still counts as recent.
func (t LabType) LookbackMonths() int {
	switch t {
	case LabBPSystolic, LabBPDiastolic:
		return 6
	default:
		return 12
	}
}

// String returns the wire name of the lab type.
func (t LabType) String() string {
	return string(t)
}

// RiskLevel is the final screening tier.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
)

// IsValid reports whether the level is one the funnel can emit.
func (r RiskLevel) IsValid() bool {
	return r == RiskHigh || r == RiskMedium
}

func (r RiskLevel) String() string {
	return string(r)
}

// Branch is the lab-sufficiency routing outcome.
type Branch string

const (
	BranchMissingData   Branch = "MISSING_DATA"
	BranchLabsAvailable Branch = "LABS_AVAILABLE"
)

func (b Branch) String() string {
	return string(b)
}

// ActionCategory tells the worklist consumer what kind of follow-up is due.
type ActionCategory string

const (
	ActionOrderLabs         ActionCategory = "ORDER_LABS"
	ActionConfirmResults    ActionCategory = "CONFIRM_RESULTS"
	ActionRoutineMonitoring ActionCategory = "ROUTINE_MONITORING"
)

func (a ActionCategory) String() string {
	return string(a)
}

// AlbuminuriaCategory is the KDIGO albuminuria band of a uACR value.
type AlbuminuriaCategory string

const (
	AlbuminuriaA1 AlbuminuriaCategory = "A1"
	AlbuminuriaA2 AlbuminuriaCategory = "A2"
	AlbuminuriaA3 AlbuminuriaCategory = "A3"
)

// WorseningLevel grades the change between the two most recent uACR values.
type WorseningLevel string

const (
	WorseningNone                WorseningLevel = "NO_CHANGE"
	WorseningMild                WorseningLevel = "MILD"
	WorseningModerate            WorseningLevel = "MODERATE"
	WorseningSevere              WorseningLevel = "SEVERE"
	WorseningCategoryProgression WorseningLevel = "CATEGORY_PROGRESSION"
)

// Status labels and advisory flags emitted by the classifier.
const (
	StatusScreeningNeeded = "Screening Needed"
	StatusAbnormalResults = "Abnormal Results Detected"
	StatusLabsNormal      = "Risk Factors Present, Labs Normal"
	AdvisoryIncomplete    = "risk assessment incomplete"
	AdvisoryAbnormal      = "abnormal results detected"
	AdvisoryMonitor       = "monitor"
	PrimaryFactorUnknown  = "Unknown"
)

// DateLayout is the calendar date format used on every external surface.
const DateLayout = "2006-01-02"

var (
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation marks an internal-logic fault: a rule set that is meant
	// to be exhaustive fell through, or a stage received a state it can never produce.
	ErrInvariantViolation = errors.New("screening invariant violated")
)

// CalendarDate drops the clock part of t, keeping its calendar day in UTC.
// All window and next-action arithmetic is done on calendar dates.
func CalendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AddMonths moves the calendar date of t by n months. A day that does not exist in
// the target month is clamped to that month's last day (2024-11-30 + 3 = 2025-02-28).
func AddMonths(t time.Time, n int) time.Time {
	day := CalendarDate(t)
	first := time.Date(day.Year(), day.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	if d := day.Day(); d < lastDay {
		lastDay = d
	}
	return time.Date(first.Year(), first.Month(), lastDay, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, NewValidationError("date", "expected YYYY-MM-DD", s)
	}
	return t, nil
}
