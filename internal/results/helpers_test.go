package results

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ckd-screening-service/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func sampleRun(runID string, evaluatedOn time.Time) *domain.ScreeningRun {
	egfr := 42.0
	classification := domain.Classification{
		PatientID:         "P001",
		Branch:            domain.BranchLabsAvailable,
		RiskLevel:         domain.RiskHigh,
		RiskStatus:        domain.StatusAbnormalResults,
		AdvisoryFlag:      domain.AdvisoryAbnormal,
		Recommendation:    "Confirm eGFR 42.0 (G3b) with repeat testing",
		MissingLabs:       []domain.LabType{},
		NextActionDate:    evaluatedOn.AddDate(0, 0, 14),
		RiskFactorCount:   2,
		PrimaryRiskFactor: "Diabetes",
		EGFR:              &egfr,
		EvaluatedOn:       evaluatedOn,
	}
	return &domain.ScreeningRun{
		Batch: &domain.ScreeningBatch{
			RunID:           runID,
			EvaluatedOn:     evaluatedOn,
			Classifications: []domain.Classification{classification},
			Warnings:        []domain.DataQualityWarning{},
			Summary: domain.ScreeningSummary{
				PatientsScanned:     3,
				PatientsQualified:   1,
				PatientsExcluded:    2,
				QualifiedPercentage: 33.3,
				ByBranch:            map[domain.Branch]int{domain.BranchLabsAvailable: 1},
				ByRiskLevel:         map[domain.RiskLevel]int{domain.RiskHigh: 1},
				ByPrimaryRiskFactor: map[string]int{"Diabetes": 1},
			},
		},
		Worklist: &domain.Worklist{
			RunID:       runID,
			EvaluatedOn: evaluatedOn,
			GeneratedAt: evaluatedOn.Add(9 * time.Hour),
			Entries: []domain.PriorityEntry{{
				Classification: classification,
				PriorityScore:  170,
				ActionCategory: domain.ActionConfirmResults,
			}},
			ByAction: map[domain.ActionCategory]int{domain.ActionConfirmResults: 1},
		},
	}
}
