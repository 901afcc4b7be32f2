package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ckd-screening-service/internal/domain"
)

// observationHorizonMonths bounds how far back the runner fetches observations.
// It covers every lookback window plus the previous uACR used for trends.
const observationHorizonMonths = 24

// ResultSink persists a finished screening run.
type ResultSink interface {
	Save(ctx context.Context, run *domain.ScreeningRun) error
}

// ScreeningRunner drives a full run: read from the source, classify, rank,
// persist, publish.
type ScreeningRunner struct {
	source    domain.ScreeningSource
	screening *ScreeningService
	sink      ResultSink
	publisher domain.WorklistPublisher
	logger    *logrus.Logger
}

// NewScreeningRunner creates a runner. sink and publisher are optional.
func NewScreeningRunner(source domain.ScreeningSource, screening *ScreeningService, sink ResultSink, publisher domain.WorklistPublisher, logger *logrus.Logger) *ScreeningRunner {
	return &ScreeningRunner{
		source:    source,
		screening: screening,
		sink:      sink,
		publisher: publisher,
		logger:    logger,
	}
}

// Run executes one screening run evaluated on today.
func (r *ScreeningRunner) Run(ctx context.Context, today time.Time) (*domain.ScreeningRun, error) {
	day := domain.CalendarDate(today)

	patients, err := r.source.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}

	observations, err := r.source.ListObservations(ctx, domain.AddMonths(day, -observationHorizonMonths))
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"patients":     len(patients),
		"observations": len(observations),
		"evaluated_on": day.Format(domain.DateLayout),
	}).Info("Loaded screening input")

	batch, err := r.screening.Classify(ctx, patients, observations, day)
	if err != nil {
		return nil, err
	}

	worklist, err := r.screening.Rank(ctx, batch)
	if err != nil {
		return nil, err
	}

	run := &domain.ScreeningRun{Batch: batch, Worklist: worklist}

	if r.sink != nil {
		if err := r.sink.Save(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to save screening run: %w", err)
		}
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, worklist); err != nil {
			r.logger.WithError(err).WithField("run_id", batch.RunID).Warn("Failed to publish worklist")
		}
	}

	return run, nil
}
