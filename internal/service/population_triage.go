package service

import (
	"time"

	"github.com/ckd-screening-service/internal/domain"
)

// Age above which a patient qualifies on age alone.
const triageAgeThreshold = 60

// riskFactorRule is one qualifying predicate of the population filter.
type riskFactorRule struct {
	Label string
	Met   func(p domain.Patient, age *int) bool
}

// triageRules is ordered: the first matching rule names the primary risk factor.
var triageRules = []riskFactorRule{
	{"Diabetes", func(p domain.Patient, _ *int) bool { return p.RiskFactors.Diabetes }},
	{"Hypertension", func(p domain.Patient, _ *int) bool { return p.RiskFactors.Hypertension }},
	{"Age > 60", func(_ domain.Patient, age *int) bool { return age != nil && *age > triageAgeThreshold }},
	{"Heart Failure", func(p domain.Patient, _ *int) bool { return p.RiskFactors.HeartFailure }},
	{"CAD", func(p domain.Patient, _ *int) bool { return p.RiskFactors.CAD }},
	{"Obesity", func(p domain.Patient, _ *int) bool { return p.RiskFactors.Obesity }},
	{"CVD History", func(p domain.Patient, _ *int) bool { return p.RiskFactors.CVDHistory }},
	{"Family History ESRD", func(p domain.Patient, _ *int) bool { return p.RiskFactors.FamilyHistoryESRD }},
}

// PopulationTriageFilter selects the patients eligible for kidney screening.
type PopulationTriageFilter struct {
	rules []riskFactorRule
}

// NewPopulationTriageFilter creates a filter over the standard rule order
func NewPopulationTriageFilter() *PopulationTriageFilter {
	return &PopulationTriageFilter{rules: triageRules}
}

// Triage evaluates every risk-factor rule for the patient on the given day.
// A patient without a date of birth simply fails the age rule.
func (f *PopulationTriageFilter) Triage(patient domain.Patient, today time.Time) domain.TriageResult {
	result := domain.TriageResult{
		Patient:           patient,
		PrimaryRiskFactor: domain.PrimaryFactorUnknown,
	}

	var age *int
	if years, ok := patient.AgeOn(today); ok {
		age = &years
		result.Age = &years
	}

	for _, rule := range f.rules {
		if !rule.Met(patient, age) {
			continue
		}
		if result.RiskFactorCount == 0 {
			result.PrimaryRiskFactor = rule.Label
		}
		result.RiskFactorCount++
	}
	result.Qualifies = result.RiskFactorCount > 0

	return result
}
