package service

import (
	"sort"

	"github.com/ckd-screening-service/internal/domain"
)

// Percent-change bands for uACR worsening.
const (
	worseningMildAbove     = 30.0
	worseningModerateAbove = 50.0
	worseningSevereAbove   = 100.0
)

// AlbuminuriaTrendAnalyzer compares the two most recent uACR results of a patient.
// The trend is informational and never changes the funnel's decisions.
type AlbuminuriaTrendAnalyzer struct{}

// NewAlbuminuriaTrendAnalyzer creates a new analyzer
func NewAlbuminuriaTrendAnalyzer() *AlbuminuriaTrendAnalyzer {
	return &AlbuminuriaTrendAnalyzer{}
}

// AlbuminuriaCategoryOf returns the KDIGO band of a uACR value in mg/g.
func AlbuminuriaCategoryOf(uacr float64) domain.AlbuminuriaCategory {
	switch {
	case uacr < uacrAbnormalAbove:
		return domain.AlbuminuriaA1
	case uacr <= uacrSevereAbove:
		return domain.AlbuminuriaA2
	default:
		return domain.AlbuminuriaA3
	}
}

// Analyze returns nil when fewer than two usable uACR values exist or the previous
// value is zero. Invalid and non-uACR observations are skipped; no window applies.
func (a *AlbuminuriaTrendAnalyzer) Analyze(observations []domain.LabObservation) *domain.AlbuminuriaTrend {
	type point struct {
		value float64
		obs   domain.LabObservation
	}

	points := make([]point, 0, len(observations))
	for _, obs := range observations {
		labType, ok := domain.ParseLabType(string(obs.Type))
		if !ok || labType != domain.LabUACR || !obs.HasFiniteValue() || *obs.Value < 0 {
			continue
		}
		points = append(points, point{value: *obs.Value, obs: obs})
	}
	if len(points) < 2 {
		return nil
	}

	sort.SliceStable(points, func(i, j int) bool {
		di, dj := domain.CalendarDate(points[i].obs.ObservedAt), domain.CalendarDate(points[j].obs.ObservedAt)
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return points[i].value > points[j].value
	})

	current, previous := points[0], points[1]
	if previous.value == 0 {
		return nil
	}

	currentDate := domain.CalendarDate(current.obs.ObservedAt)
	previousDate := domain.CalendarDate(previous.obs.ObservedAt)

	trend := &domain.AlbuminuriaTrend{
		CurrentValue:     current.value,
		PreviousValue:    previous.value,
		CurrentDate:      currentDate,
		PreviousDate:     previousDate,
		DaysBetween:      int(currentDate.Sub(previousDate).Hours() / 24),
		PercentChange:    (current.value - previous.value) / previous.value * 100,
		CurrentCategory:  AlbuminuriaCategoryOf(current.value),
		PreviousCategory: AlbuminuriaCategoryOf(previous.value),
		IsWorsening:      current.value > previous.value,
	}

	switch {
	case !trend.IsWorsening:
		trend.Worsening = domain.WorseningNone
	case trend.CurrentCategory != trend.PreviousCategory:
		trend.Worsening = domain.WorseningCategoryProgression
	case trend.PercentChange > worseningSevereAbove:
		trend.Worsening = domain.WorseningSevere
	case trend.PercentChange > worseningModerateAbove:
		trend.Worsening = domain.WorseningModerate
	case trend.PercentChange > worseningMildAbove:
		trend.Worsening = domain.WorseningMild
	default:
		trend.Worsening = domain.WorseningNone
		trend.IsWorsening = false
	}

	return trend
}
