package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ckd-screening-service/internal/domain"
)

// Clinical thresholds (KDIGO 2012).
const (
	egfrAbnormalBelow      = 60.0
	egfrMonitorBelow       = 45.0
	egfrReferralBelow      = 30.0
	uacrAbnormalAbove      = 30.0
	uacrSevereAbove        = 300.0
	multipleRiskFactorsMin = 3
)

// riskOutcome is what a threshold rule contributes to a classification.
type riskOutcome struct {
	Level          domain.RiskLevel
	Status         string
	Advisory       string
	Recommendation string
	NextAction     time.Time
}

// thresholdRule is one step of the labs-available sub-branching.
type thresholdRule struct {
	Name    string
	Matches func(egfr, uacr float64) bool
	Outcome func(egfr, uacr float64, today time.Time) riskOutcome
}

// thresholdRules is evaluated top-down; the final rule always matches.
var thresholdRules = []thresholdRule{
	{
		Name:    "reduced_egfr",
		Matches: func(egfr, _ float64) bool { return egfr < egfrAbnormalBelow },
		Outcome: func(egfr, _ float64, today time.Time) riskOutcome {
			sentences := []string{
				fmt.Sprintf("eGFR < 60 (current: %s mL/min/1.73m²).", formatLabValue(egfr)),
				"Activate 3-month confirmation tracker.",
			}
			switch {
			case egfr < egfrReferralBelow:
				sentences = append(sentences, "Consider nephrology referral.")
			case egfr < egfrMonitorBelow:
				sentences = append(sentences, "Monitor closely for progression.")
			}
			sentences = append(sentences, "Review medication list for nephrotoxins.")
			return abnormalOutcome(sentences, today)
		},
	},
	{
		Name:    "elevated_uacr",
		Matches: func(_, uacr float64) bool { return uacr > uacrAbnormalAbove },
		Outcome: func(_, uacr float64, today time.Time) riskOutcome {
			sentences := []string{fmt.Sprintf("uACR > 30 (current: %s mg/g).", formatLabValue(uacr))}
			if uacr > uacrSevereAbove {
				sentences = append(sentences, "Severely increased albuminuria (A3). Start RAS inhibitor if not contraindicated.")
			} else {
				sentences = append(sentences, "Moderately increased albuminuria (A2). Consider RAS inhibitor.")
			}
			sentences = append(sentences, "Repeat test in 3 months for confirmation.")
			return abnormalOutcome(sentences, today)
		},
	},
	{
		Name:    "labs_normal",
		Matches: func(_, _ float64) bool { return true },
		Outcome: func(_, _ float64, today time.Time) riskOutcome {
			return riskOutcome{
				Level:          domain.RiskMedium,
				Status:         domain.StatusLabsNormal,
				Advisory:       domain.AdvisoryMonitor,
				Recommendation: "Re-screen in 12 months. Continue monitoring blood pressure and blood glucose control. Encourage lifestyle modifications.",
				NextAction:     domain.AddMonths(today, 12),
			}
		},
	},
}

func abnormalOutcome(sentences []string, today time.Time) riskOutcome {
	return riskOutcome{
		Level:          domain.RiskHigh,
		Status:         domain.StatusAbnormalResults,
		Advisory:       domain.AdvisoryAbnormal,
		Recommendation: strings.Join(sentences, " "),
		NextAction:     domain.AddMonths(today, 3),
	}
}

// RiskClassifier turns a branch decision and lab snapshot into a final classification.
type RiskClassifier struct {
	rules []thresholdRule
}

// NewRiskClassifier creates a classifier over the standard threshold order
func NewRiskClassifier() *RiskClassifier {
	return &RiskClassifier{rules: thresholdRules}
}

// Classify synthesizes risk level, status, advisory, recommendation and next action date.
// A MISSING_DATA decision never reaches threshold evaluation, even when stale values exist.
func (c *RiskClassifier) Classify(triage domain.TriageResult, decision domain.BranchDecision, snapshot domain.LabCompletenessSnapshot, today time.Time) (domain.Classification, error) {
	day := domain.CalendarDate(today)
	patient := triage.Patient

	classification := domain.Classification{
		PatientID:         patient.ID,
		PatientName:       patient.Name,
		MRN:               patient.MRN,
		Branch:            decision.Branch,
		MissingLabs:       append([]domain.LabType{}, decision.MissingLabs...),
		RiskFactorCount:   triage.RiskFactorCount,
		PrimaryRiskFactor: triage.PrimaryRiskFactor,
		EvaluatedOn:       day,
	}
	if v, ok := snapshot.Value(domain.LabEGFR); ok {
		classification.EGFR = &v
	}
	if v, ok := snapshot.Value(domain.LabUACR); ok {
		classification.UACR = &v
	}

	var outcome riskOutcome
	switch decision.Branch {
	case domain.BranchMissingData:
		outcome = missingDataOutcome(decision.MissingLabs, triage.RiskFactorCount, day)

	case domain.BranchLabsAvailable:
		egfr, egfrOK := snapshot.Value(domain.LabEGFR)
		uacr, uacrOK := snapshot.Value(domain.LabUACR)
		if !egfrOK || !uacrOK {
			return domain.Classification{}, domain.InvariantError("risk classifier", patient.ID,
				"LABS_AVAILABLE without eGFR and uACR values")
		}
		matched := false
		for _, rule := range c.rules {
			if rule.Matches(egfr, uacr) {
				outcome = rule.Outcome(egfr, uacr, day)
				matched = true
				break
			}
		}
		if !matched {
			return domain.Classification{}, domain.InvariantError("risk classifier", patient.ID,
				"no threshold rule matched eGFR=%v uACR=%v", egfr, uacr)
		}

	default:
		return domain.Classification{}, domain.InvariantError("risk classifier", patient.ID,
			"unknown branch %q", decision.Branch)
	}

	classification.RiskLevel = outcome.Level
	classification.RiskStatus = outcome.Status
	classification.AdvisoryFlag = outcome.Advisory
	classification.Recommendation = outcome.Recommendation
	classification.NextActionDate = outcome.NextAction

	return classification, nil
}

func missingDataOutcome(missing []domain.LabType, riskFactorCount int, today time.Time) riskOutcome {
	names := make([]string, len(missing))
	for i, lab := range missing {
		names[i] = lab.String()
	}

	sentences := []string{fmt.Sprintf("Order baseline %s tests.", strings.Join(names, ", "))}
	if riskFactorCount >= multipleRiskFactorsMin {
		sentences = append(sentences, "Multiple risk factors present — prioritize screening.")
	}
	sentences = append(sentences, "Recommend fasting morning draw for optimal accuracy.")

	return riskOutcome{
		Level:          domain.RiskHigh,
		Status:         domain.StatusScreeningNeeded,
		Advisory:       domain.AdvisoryIncomplete,
		Recommendation: strings.Join(sentences, " "),
		NextAction:     today.AddDate(0, 0, 14),
	}
}

// formatLabValue prints the stored value with the shortest exact decimal form.
func formatLabValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
