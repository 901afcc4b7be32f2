package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/ckd-screening-service/internal/domain"
)

// PostgresSource reads patients and lab observations from PostgreSQL
type PostgresSource struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresSource creates a new PostgreSQL screening source
func NewPostgresSource(db *pgxpool.Pool, logger *logrus.Logger) *PostgresSource {
	return &PostgresSource{
		db:  db,
		log: logger,
	}
}

// ListPatients returns every patient ordered by ID
func (r *PostgresSource) ListPatients(ctx context.Context) ([]domain.Patient, error) {
	query := `
		SELECT id, COALESCE(mrn, ''), COALESCE(name, ''), date_of_birth,
			   diabetes, hypertension, heart_failure, cad, obesity, cvd_history, family_history_esrd
		FROM patients
		ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.log.WithError(err).Error("Failed to list patients")
		return nil, fmt.Errorf("listing patients: %w", err)
	}
	defer rows.Close()

	var patients []domain.Patient
	for rows.Next() {
		var p domain.Patient
		var dob *time.Time
		if err := rows.Scan(
			&p.ID,
			&p.MRN,
			&p.Name,
			&dob,
			&p.RiskFactors.Diabetes,
			&p.RiskFactors.Hypertension,
			&p.RiskFactors.HeartFailure,
			&p.RiskFactors.CAD,
			&p.RiskFactors.Obesity,
			&p.RiskFactors.CVDHistory,
			&p.RiskFactors.FamilyHistoryESRD,
		); err != nil {
			return nil, fmt.Errorf("scanning patient: %w", err)
		}
		if dob != nil {
			d := domain.CalendarDate(*dob)
			p.DateOfBirth = &d
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating patients: %w", err)
	}

	r.log.WithField("count", len(patients)).Debug("Listed patients")
	return patients, nil
}

// ListObservations returns observations dated on or after since; a zero since returns all
func (r *PostgresSource) ListObservations(ctx context.Context, since time.Time) ([]domain.LabObservation, error) {
	query := `
		SELECT id, patient_id, lab_type, value, observed_at
		FROM lab_observations
		WHERE $1::date IS NULL OR observed_at >= $1::date
		ORDER BY patient_id, observed_at, id`

	var sinceArg *time.Time
	if !since.IsZero() {
		d := domain.CalendarDate(since)
		sinceArg = &d
	}

	rows, err := r.db.Query(ctx, query, sinceArg)
	if err != nil {
		r.log.WithError(err).Error("Failed to list lab observations")
		return nil, fmt.Errorf("listing lab observations: %w", err)
	}
	defer rows.Close()

	var observations []domain.LabObservation
	for rows.Next() {
		var obs domain.LabObservation
		var labType string
		if err := rows.Scan(&obs.ID, &obs.PatientID, &labType, &obs.Value, &obs.ObservedAt); err != nil {
			return nil, fmt.Errorf("scanning lab observation: %w", err)
		}
		obs.Type = domain.LabType(labType)
		obs.ObservedAt = domain.CalendarDate(obs.ObservedAt)
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lab observations: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"count": len(observations),
		"since": since.Format(domain.DateLayout),
	}).Debug("Listed lab observations")
	return observations, nil
}

// Import upserts patients and appends observations in a single transaction.
// Observations already present (same ID) are left untouched; observations without
// an ID get a generated one.
func (r *PostgresSource) Import(ctx context.Context, patients []domain.Patient, observations []domain.LabObservation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range patients {
		batch.Queue(`
			INSERT INTO patients (
				id, mrn, name, date_of_birth,
				diabetes, hypertension, heart_failure, cad, obesity, cvd_history, family_history_esrd
			) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				mrn = EXCLUDED.mrn,
				name = EXCLUDED.name,
				date_of_birth = EXCLUDED.date_of_birth,
				diabetes = EXCLUDED.diabetes,
				hypertension = EXCLUDED.hypertension,
				heart_failure = EXCLUDED.heart_failure,
				cad = EXCLUDED.cad,
				obesity = EXCLUDED.obesity,
				cvd_history = EXCLUDED.cvd_history,
				family_history_esrd = EXCLUDED.family_history_esrd,
				updated_at = NOW()`,
			p.ID, p.MRN, p.Name, p.DateOfBirth,
			p.RiskFactors.Diabetes, p.RiskFactors.Hypertension, p.RiskFactors.HeartFailure,
			p.RiskFactors.CAD, p.RiskFactors.Obesity, p.RiskFactors.CVDHistory, p.RiskFactors.FamilyHistoryESRD,
		)
	}
	for _, obs := range observations {
		if obs.ID == "" {
			obs.ID = uuid.NewString()
		}
		batch.Queue(`
			INSERT INTO lab_observations (id, patient_id, lab_type, value, observed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			obs.ID, obs.PatientID, string(obs.Type), obs.Value, domain.CalendarDate(obs.ObservedAt),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		r.log.WithError(err).Error("Failed to import screening data")
		return fmt.Errorf("importing screening data: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patients":     len(patients),
		"observations": len(observations),
	}).Info("Imported screening data")
	return nil
}
