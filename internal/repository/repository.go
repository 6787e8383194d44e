package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/regionpulse/stress-anomaly-worker/internal/db"
)

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveScoredObservation persists a raw observation and its engine scores
// in one transaction, so a reading is never stored without its result
func (r *Repository) SaveScoredObservation(ctx context.Context, obs *db.StressObservation, rec *db.AnomalyRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.InsertObservationTx(ctx, tx, obs); err != nil {
		return err
	}
	if err := r.InsertAnomalyRecordTx(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertObservationTx persists a raw observation within a transaction
func (r *Repository) InsertObservationTx(ctx context.Context, tx pgx.Tx, obs *db.StressObservation) error {
	query := `
		INSERT INTO stress_observations (
			subject_key, metric_value, features, observed_at, received_at, source
		)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := tx.Exec(ctx, query,
		obs.SubjectKey,
		obs.MetricValue,
		obs.Features,
		obs.ObservedAt,
		obs.ReceivedAt,
		obs.Source,
	)

	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}

	return nil
}

// InsertAnomalyRecordTx persists a scored engine result within a transaction
func (r *Repository) InsertAnomalyRecordTx(ctx context.Context, tx pgx.Tx, rec *db.AnomalyRecord) error {
	query := `
		INSERT INTO anomaly_results (
			subject_key, observed_at,
			static_upper_bound, static_lower_bound, static_anomaly,
			zscore, zscore_anomaly,
			baseline, upper_band, lower_band, residual, residual_zscore,
			seasonal_anomaly, residual_anomaly,
			distance_score, distance_anomaly,
			anomalous
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := tx.Exec(ctx, query,
		rec.SubjectKey,
		rec.ObservedAt,
		rec.StaticUpperBound,
		rec.StaticLowerBound,
		rec.StaticAnomaly,
		rec.ZScore,
		rec.ZScoreAnomaly,
		rec.Baseline,
		rec.UpperBand,
		rec.LowerBand,
		rec.Residual,
		rec.ResidualZScore,
		rec.SeasonalAnomaly,
		rec.ResidualAnomaly,
		rec.DistanceScore,
		rec.DistanceAnomaly,
		rec.Anomalous,
	)

	if err != nil {
		return fmt.Errorf("failed to insert anomaly record: %w", err)
	}

	return nil
}

// RecentObservations loads up to limit persisted observations for a
// subject, oldest first, so the engine can replay them in arrival order
func (r *Repository) RecentObservations(ctx context.Context, subjectKey string, limit int) ([]db.StressObservation, error) {
	query := `
		SELECT subject_key, metric_value, features, observed_at, received_at
		FROM (
			SELECT subject_key, metric_value, features, observed_at, received_at
			FROM stress_observations
			WHERE subject_key = $1
			ORDER BY observed_at DESC
			LIMIT $2
		) recent
		ORDER BY observed_at ASC
	`

	rows, err := r.pool.Query(ctx, query, subjectKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent observations: %w", err)
	}
	defer rows.Close()

	var observations []db.StressObservation
	for rows.Next() {
		var obs db.StressObservation
		if err := rows.Scan(
			&obs.SubjectKey,
			&obs.MetricValue,
			&obs.Features,
			&obs.ObservedAt,
			&obs.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, obs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return observations, nil
}
