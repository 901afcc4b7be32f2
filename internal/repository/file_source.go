package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ckd-screening-service/internal/domain"
)

// JSONFileSource serves patients and observations from a ScreeningInput JSON document.
// The file is read lazily on first use and cached for the life of the source.
type JSONFileSource struct {
	path string
	log  *logrus.Logger

	once         sync.Once
	loadErr      error
	patients     []domain.Patient
	observations []domain.LabObservation
}

// NewJSONFileSource creates a source backed by the file at path
func NewJSONFileSource(path string, logger *logrus.Logger) *JSONFileSource {
	return &JSONFileSource{
		path: path,
		log:  logger,
	}
}

func (s *JSONFileSource) load() error {
	s.once.Do(func() {
		data, err := os.ReadFile(s.path)
		if err != nil {
			s.loadErr = fmt.Errorf("reading screening input %s: %w", s.path, err)
			return
		}

		var input domain.ScreeningInput
		if err := json.Unmarshal(data, &input); err != nil {
			s.loadErr = fmt.Errorf("parsing screening input %s: %w", s.path, err)
			return
		}

		patients, observations, err := input.Decode()
		if err != nil {
			s.loadErr = fmt.Errorf("decoding screening input %s: %w", s.path, err)
			return
		}
		s.patients, s.observations = patients, observations

		s.log.WithFields(logrus.Fields{
			"path":         s.path,
			"patients":     len(patients),
			"observations": len(observations),
		}).Info("Loaded screening input file")
	})
	return s.loadErr
}

// ListPatients returns the patients of the file in document order
func (s *JSONFileSource) ListPatients(ctx context.Context) ([]domain.Patient, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make([]domain.Patient, len(s.patients))
	copy(out, s.patients)
	return out, nil
}

// ListObservations returns observations dated on or after since; a zero since returns all
func (s *JSONFileSource) ListObservations(ctx context.Context, since time.Time) ([]domain.LabObservation, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	cutoff := domain.CalendarDate(since)
	out := make([]domain.LabObservation, 0, len(s.observations))
	for _, obs := range s.observations {
		if !since.IsZero() && domain.CalendarDate(obs.ObservedAt).Before(cutoff) {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}
