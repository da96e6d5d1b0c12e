// Package idempotency persists first-fire markers so that redelivered
// transition notifications do not repeat their side effects.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Markers is a persisted set of already-processed keys.
type Markers struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewMarkers creates a marker set backed by the transition_markers table.
func NewMarkers(pool *pgxpool.Pool, logger *zap.Logger) *Markers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Markers{pool: pool, logger: logger}
}

// FirstFire claims key for handler. It returns true exactly once per key:
// the insert either lands or hits the primary key of a previous claim, so
// concurrent claimants race on the database rather than in memory.
func (m *Markers) FirstFire(ctx context.Context, key, handler string) (bool, error) {
	query := `
		INSERT INTO transition_markers (marker_key, handler)
		VALUES ($1, $2)
		ON CONFLICT (marker_key) DO NOTHING
	`
	tag, err := m.pool.Exec(ctx, query, key, handler)
	if err != nil {
		return false, fmt.Errorf("claim transition marker: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cleanup removes markers older than the given age. Markers only guard
// redelivery windows; once a delivery system's retention has passed they are
// dead weight.
func (m *Markers) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM transition_markers WHERE created_at < NOW() - $1::interval`
	tag, err := m.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("marker cleanup: %w", err)
	}
	if tag.RowsAffected() > 0 {
		m.logger.Info("transition markers cleaned", zap.Int64("deleted", tag.RowsAffected()))
	}
	return tag.RowsAffected(), nil
}
