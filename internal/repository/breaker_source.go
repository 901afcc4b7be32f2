package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/ckd-screening-service/internal/domain"
)

// ErrSourceUnavailable is returned while the breaker rejects calls to the source.
var ErrSourceUnavailable = errors.New("screening source unavailable")

// BreakerSource guards a ScreeningSource with a circuit breaker
type BreakerSource struct {
	next    domain.ScreeningSource
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Logger
}

// NewBreakerSource wraps next. Zero config values fall back to defaults.
func NewBreakerSource(next domain.ScreeningSource, config domain.BreakerConfig, logger *logrus.Logger) *BreakerSource {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval == 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MinRequests == 0 {
		config.MinRequests = 5
	}
	if config.FailureRatio == 0 {
		config.FailureRatio = 0.6
	}

	settings := gobreaker.Settings{
		Name:        "ScreeningSource",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= config.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
		// A canceled caller is not a source failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &BreakerSource{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     logger,
	}
}

// ListPatients calls the wrapped source through the breaker
func (b *BreakerSource) ListPatients(ctx context.Context) ([]domain.Patient, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.ListPatients(ctx)
	})
	if err != nil {
		return nil, b.wrap(err)
	}
	return result.([]domain.Patient), nil
}

// ListObservations calls the wrapped source through the breaker
func (b *BreakerSource) ListObservations(ctx context.Context, since time.Time) ([]domain.LabObservation, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.ListObservations(ctx, since)
	})
	if err != nil {
		return nil, b.wrap(err)
	}
	return result.([]domain.LabObservation), nil
}

// State reports the breaker state for health checks
func (b *BreakerSource) State() string {
	return b.breaker.State().String()
}

func (b *BreakerSource) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return err
}
