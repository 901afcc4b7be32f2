package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ckd-screening-service/internal/domain"
)

func classifyLabs(t *testing.T, patient domain.Patient, labs map[domain.LabType]float64) domain.Classification {
	t.Helper()
	triage := triageFor(patient)
	snapshot := snapshotWith(labs)
	decision, err := NewLabSufficiencyRouter().Route(triage, snapshot)
	require.NoError(t, err)
	c, err := NewRiskClassifier().Classify(triage, decision, snapshot, testToday)
	require.NoError(t, err)
	return c
}

func TestRiskClassifier_MissingData(t *testing.T) {
	patient := domain.Patient{ID: "p1", Name: "Ada Moss", MRN: "MRN-1", RiskFactors: domain.RiskFactors{Hypertension: true}}

	c := classifyLabs(t, patient, nil)

	assert.Equal(t, domain.BranchMissingData, c.Branch)
	assert.Equal(t, domain.RiskHigh, c.RiskLevel)
	assert.Equal(t, domain.StatusScreeningNeeded, c.RiskStatus)
	assert.Equal(t, domain.AdvisoryIncomplete, c.AdvisoryFlag)
	assert.Equal(t, "Order baseline eGFR, uACR tests. Recommend fasting morning draw for optimal accuracy.", c.Recommendation)
	assert.Equal(t, date("2024-06-29"), c.NextActionDate)
	assert.Equal(t, []domain.LabType{domain.LabEGFR, domain.LabUACR}, c.MissingLabs)
	assert.Equal(t, "Ada Moss", c.PatientName)
	assert.Equal(t, "MRN-1", c.MRN)
	assert.Nil(t, c.EGFR)
	assert.Nil(t, c.UACR)
	assert.Equal(t, testToday, c.EvaluatedOn)
}

func TestRiskClassifier_MissingDataMultipleRiskFactors(t *testing.T) {
	patient := domain.Patient{ID: "p1", RiskFactors: domain.RiskFactors{Diabetes: true, Hypertension: true, Obesity: true}}

	c := classifyLabs(t, patient, nil)

	assert.Equal(t, "Order baseline eGFR, uACR, HbA1c tests. Multiple risk factors present — prioritize screening. "+
		"Recommend fasting morning draw for optimal accuracy.", c.Recommendation)
	assert.Equal(t, 3, c.RiskFactorCount)
}

func TestRiskClassifier_MissingDataNeverEvaluatesThresholds(t *testing.T) {
	// Diabetic with a failing eGFR but no HbA1c is still routed to baseline testing.
	patient := domain.Patient{ID: "p1", RiskFactors: domain.RiskFactors{Diabetes: true}}

	c := classifyLabs(t, patient, map[domain.LabType]float64{domain.LabEGFR: 20, domain.LabUACR: 500})

	assert.Equal(t, domain.BranchMissingData, c.Branch)
	assert.Equal(t, domain.StatusScreeningNeeded, c.RiskStatus)
	assert.Equal(t, "Order baseline HbA1c tests. Recommend fasting morning draw for optimal accuracy.", c.Recommendation)
	require.NotNil(t, c.EGFR)
	assert.Equal(t, 20.0, *c.EGFR)
}

func TestRiskClassifier_EGFRBands(t *testing.T) {
	patient := domain.Patient{ID: "p1", RiskFactors: domain.RiskFactors{Hypertension: true}}

	tests := []struct {
		name string
		egfr float64
		want string
	}{
		{"below 30 recommends referral", 29, "eGFR < 60 (current: 29 mL/min/1.73m²). Activate 3-month confirmation tracker. " +
			"Consider nephrology referral. Review medication list for nephrotoxins."},
		{"exactly 30 monitors closely", 30, "eGFR < 60 (current: 30 mL/min/1.73m²). Activate 3-month confirmation tracker. " +
			"Monitor closely for progression. Review medication list for nephrotoxins."},
		{"44 monitors closely", 44, "eGFR < 60 (current: 44 mL/min/1.73m²). Activate 3-month confirmation tracker. " +
			"Monitor closely for progression. Review medication list for nephrotoxins."},
		{"exactly 45 has no middle clause", 45, "eGFR < 60 (current: 45 mL/min/1.73m²). Activate 3-month confirmation tracker. " +
			"Review medication list for nephrotoxins."},
		{"fractional value keeps precision", 59.5, "eGFR < 60 (current: 59.5 mL/min/1.73m²). Activate 3-month confirmation tracker. " +
			"Review medication list for nephrotoxins."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classifyLabs(t, patient, map[domain.LabType]float64{domain.LabEGFR: tt.egfr, domain.LabUACR: 10})

			assert.Equal(t, domain.RiskHigh, c.RiskLevel)
			assert.Equal(t, domain.StatusAbnormalResults, c.RiskStatus)
			assert.Equal(t, domain.AdvisoryAbnormal, c.AdvisoryFlag)
			assert.Equal(t, tt.want, c.Recommendation)
			assert.Equal(t, date("2024-09-15"), c.NextActionDate)
			assert.Empty(t, c.MissingLabs)
		})
	}
}

func TestRiskClassifier_UACRBands(t *testing.T) {
	patient := domain.Patient{ID: "p1", RiskFactors: domain.RiskFactors{Hypertension: true}}

	tests := []struct {
		name string
		uacr float64
		want string
	}{
		{"just above 30", 31, "uACR > 30 (current: 31 mg/g). Moderately increased albuminuria (A2). Consider RAS inhibitor. " +
			"Repeat test in 3 months for confirmation."},
		{"exactly 300 is A2", 300, "uACR > 30 (current: 300 mg/g). Moderately increased albuminuria (A2). Consider RAS inhibitor. " +
			"Repeat test in 3 months for confirmation."},
		{"301 is A3", 301, "uACR > 30 (current: 301 mg/g). Severely increased albuminuria (A3). Start RAS inhibitor if not contraindicated. " +
			"Repeat test in 3 months for confirmation."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classifyLabs(t, patient, map[domain.LabType]float64{domain.LabEGFR: 90, domain.LabUACR: tt.uacr})

			assert.Equal(t, domain.RiskHigh, c.RiskLevel)
			assert.Equal(t, tt.want, c.Recommendation)
			assert.Equal(t, date("2024-09-15"), c.NextActionDate)
		})
	}
}

func TestRiskClassifier_EGFRTakesPrecedenceOverUACR(t *testing.T) {
	patient := domain.Patient{ID: "p1", RiskFactors: domain.RiskFactors{Hypertension: true}}

	c := classifyLabs(t, patient, map[domain.LabType]float64{domain.LabEGFR: 50, domain.LabUACR: 400})

	assert.Contains(t, c.Recommendation, "eGFR < 60")
	assert.NotContains(t, c.Recommendation, "uACR")
}

func TestRiskClassifier_LabsNormal(t *testing.T) {
	patient := domain.Patient{ID: "p1", RiskFactors: domain.RiskFactors{Hypertension: true}}

	for _, labs := range []map[domain.LabType]float64{
		{domain.LabEGFR: 60, domain.LabUACR: 30},
		{domain.LabEGFR: 95, domain.LabUACR: 0},
	} {
		c := classifyLabs(t, patient, labs)

		assert.Equal(t, domain.BranchLabsAvailable, c.Branch)
		assert.Equal(t, domain.RiskMedium, c.RiskLevel)
		assert.Equal(t, domain.StatusLabsNormal, c.RiskStatus)
		assert.Equal(t, domain.AdvisoryMonitor, c.AdvisoryFlag)
		assert.Equal(t, "Re-screen in 12 months. Continue monitoring blood pressure and blood glucose control. "+
			"Encourage lifestyle modifications.", c.Recommendation)
		assert.Equal(t, date("2025-06-15"), c.NextActionDate)
		require.NotNil(t, c.EGFR)
		require.NotNil(t, c.UACR)
	}
}

func TestRiskClassifier_NextActionClampsToMonthEnd(t *testing.T) {
	patient := domain.Patient{ID: "p1", RiskFactors: domain.RiskFactors{Hypertension: true}}
	triage := triageFor(patient)
	classifier := NewRiskClassifier()

	tests := []struct {
		name     string
		today    string
		labs     map[domain.LabType]float64
		expected string
	}{
		{"abnormal three months", "2024-11-30", map[domain.LabType]float64{domain.LabEGFR: 45, domain.LabUACR: 10}, "2025-02-28"},
		{"normal twelve months", "2024-02-29", map[domain.LabType]float64{domain.LabEGFR: 90, domain.LabUACR: 10}, "2025-02-28"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := snapshotWith(tt.labs)
			decision, err := NewLabSufficiencyRouter().Route(triage, snapshot)
			require.NoError(t, err)

			c, err := classifier.Classify(triage, decision, snapshot, date(tt.today))
			require.NoError(t, err)
			assert.Equal(t, date(tt.expected), c.NextActionDate)
		})
	}
}

func TestRiskClassifier_InvariantViolations(t *testing.T) {
	classifier := NewRiskClassifier()
	triage := triageFor(domain.Patient{ID: "p1", RiskFactors: domain.RiskFactors{Hypertension: true}})

	t.Run("unknown branch", func(t *testing.T) {
		_, err := classifier.Classify(triage, domain.BranchDecision{Branch: "SOMETHING_ELSE"}, snapshotWith(nil), testToday)
		assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	})

	t.Run("labs available without values", func(t *testing.T) {
		decision := domain.BranchDecision{Branch: domain.BranchLabsAvailable}
		_, err := classifier.Classify(triage, decision, snapshotWith(map[domain.LabType]float64{domain.LabEGFR: 70}), testToday)
		assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	})

	t.Run("no threshold rule matched", func(t *testing.T) {
		truncated := &RiskClassifier{rules: thresholdRules[:2]}
		decision := domain.BranchDecision{Branch: domain.BranchLabsAvailable}
		labs := snapshotWith(map[domain.LabType]float64{domain.LabEGFR: 90, domain.LabUACR: 10})
		_, err := truncated.Classify(triage, decision, labs, testToday)
		assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	})
}
