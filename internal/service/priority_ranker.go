package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/ckd-screening-service/internal/domain"
)

// Priority score weights.
const (
	weightHighRisk       = 100
	weightUrgentAction   = 50
	weightPerRiskFactor  = 10
	weightMultipleMissed = 20
	multipleMissingMin   = 2
)

// PriorityRanker scores classifications and orders them into a worklist.
type PriorityRanker struct{}

// NewPriorityRanker creates a new ranker
func NewPriorityRanker() *PriorityRanker {
	return &PriorityRanker{}
}

// Score computes the priority score of a classification evaluated on today.
func (r *PriorityRanker) Score(c domain.Classification, today time.Time) (int, error) {
	if err := checkRankable(c); err != nil {
		return 0, err
	}

	day := domain.CalendarDate(today)
	score := 0
	if c.RiskLevel == domain.RiskHigh {
		score += weightHighRisk
	}
	if c.NextActionDate.Before(domain.AddMonths(day, 1)) {
		score += weightUrgentAction
	}
	score += weightPerRiskFactor * c.RiskFactorCount
	if len(c.MissingLabs) >= multipleMissingMin {
		score += weightMultipleMissed
	}
	return score, nil
}

// Category maps a classification to the follow-up it needs.
func (r *PriorityRanker) Category(c domain.Classification) domain.ActionCategory {
	switch {
	case len(c.MissingLabs) > 0:
		return domain.ActionOrderLabs
	case c.RiskStatus == domain.StatusAbnormalResults:
		return domain.ActionConfirmResults
	default:
		return domain.ActionRoutineMonitoring
	}
}

// Rank scores every classification and orders the worklist by score descending,
// then next action date ascending, then patient ID.
func (r *PriorityRanker) Rank(classifications []domain.Classification, today time.Time) ([]domain.PriorityEntry, error) {
	entries := make([]domain.PriorityEntry, 0, len(classifications))
	for _, c := range classifications {
		score, err := r.Score(c, today)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.PriorityEntry{
			Classification: c,
			PriorityScore:  score,
			ActionCategory: r.Category(c),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.Classification.NextActionDate.Equal(b.Classification.NextActionDate) {
			return a.Classification.NextActionDate.Before(b.Classification.NextActionDate)
		}
		return a.Classification.PatientID < b.Classification.PatientID
	})

	return entries, nil
}

// checkRankable rejects classifications the classifier can never produce.
func checkRankable(c domain.Classification) error {
	if problem := rankableProblem(c); problem != "" {
		return domain.InvariantError("priority ranker", c.PatientID, "%s", problem)
	}
	return nil
}

func rankableProblem(c domain.Classification) string {
	if !c.RiskLevel.IsValid() {
		return fmt.Sprintf("unknown risk level %q", c.RiskLevel)
	}
	if c.RiskLevel == domain.RiskMedium {
		if len(c.MissingLabs) > 0 {
			return fmt.Sprintf("MEDIUM risk with missing labs %v", c.MissingLabs)
		}
		if c.RiskStatus == domain.StatusAbnormalResults || c.RiskStatus == domain.StatusScreeningNeeded {
			return fmt.Sprintf("MEDIUM risk with status %q", c.RiskStatus)
		}
	}
	return ""
}
