// Package analytics maintains the daily dispensing rollups. The rollup is a
// derived read model; it can always be rebuilt from the audit ledger.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DailyStats is one rollup record, keyed by ISO date.
type DailyStats struct {
	Date               string    `json:"date"`
	TotalPrescriptions int64     `json:"totalPrescriptions"`
	TotalDispensed     int64     `json:"totalDispensed"`
	UniqueDoctors      []string  `json:"uniqueDoctors"`
	UniqueChemists     []string  `json:"uniqueChemists"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// DateKey formats t as the rollup key for its UTC calendar day.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Aggregator merges dispensing events into daily_stats.
type Aggregator struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(pool *pgxpool.Pool, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{pool: pool, logger: logger}
}

// Merge upserts the rollup for date: counters are incremented and the actor
// ids unioned into their sets in a single statement, so concurrent merges for
// the same date compose without a read-modify-write race.
func (a *Aggregator) Merge(ctx context.Context, date, doctorID, chemistID string) error {
	query := `
		INSERT INTO daily_stats (date, total_prescriptions, total_dispensed, unique_doctors, unique_chemists)
		VALUES ($1, 1, 1, ARRAY[$2], ARRAY[$3])
		ON CONFLICT (date) DO UPDATE SET
			total_prescriptions = daily_stats.total_prescriptions + 1,
			total_dispensed     = daily_stats.total_dispensed + 1,
			unique_doctors = CASE WHEN $2 = ANY(daily_stats.unique_doctors)
				THEN daily_stats.unique_doctors
				ELSE array_append(daily_stats.unique_doctors, $2) END,
			unique_chemists = CASE WHEN $3 = ANY(daily_stats.unique_chemists)
				THEN daily_stats.unique_chemists
				ELSE array_append(daily_stats.unique_chemists, $3) END,
			updated_at = NOW()
	`
	if _, err := a.pool.Exec(ctx, query, date, doctorID, chemistID); err != nil {
		return fmt.Errorf("merge daily stats: %w", err)
	}
	return nil
}

// Get returns the rollup for date, or a zero-valued record when no dispensing
// has happened that day.
func (a *Aggregator) Get(ctx context.Context, date string) (*DailyStats, error) {
	query := `
		SELECT date, total_prescriptions, total_dispensed, unique_doctors, unique_chemists, updated_at
		FROM daily_stats
		WHERE date = $1
	`
	stats := &DailyStats{}
	err := a.pool.QueryRow(ctx, query, date).Scan(
		&stats.Date, &stats.TotalPrescriptions, &stats.TotalDispensed,
		&stats.UniqueDoctors, &stats.UniqueChemists, &stats.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return &DailyStats{Date: date}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily stats: %w", err)
	}
	return stats, nil
}
