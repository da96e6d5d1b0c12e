package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup. Statements are idempotent so every binary can
// run them unconditionally.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS prescriptions (
		id                 TEXT PRIMARY KEY,
		doctor_id          TEXT NOT NULL,
		doctor_name        TEXT NOT NULL DEFAULT '',
		patient_name       TEXT NOT NULL,
		patient_phone      TEXT NOT NULL,
		medicines          JSONB NOT NULL,
		notes              TEXT,
		verification_code  TEXT,
		content_hash       TEXT,
		token_url          TEXT,
		status             TEXT NOT NULL DEFAULT 'pending',
		dispensed_by       TEXT,
		chemist_name       TEXT,
		chemist_license_id TEXT,
		dispensed_at       TIMESTAMPTZ,
		error_message      TEXT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prescriptions_doctor ON prescriptions (doctor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_prescriptions_status_created ON prescriptions (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id              BIGSERIAL PRIMARY KEY,
		prescription_id TEXT NOT NULL,
		action          TEXT NOT NULL,
		actor_id        TEXT NOT NULL,
		metadata        JSONB,
		origin_ip       TEXT,
		timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_prescription ON audit_logs (prescription_id)`,

	`CREATE TABLE IF NOT EXISTS daily_stats (
		date                TEXT PRIMARY KEY,
		total_prescriptions BIGINT NOT NULL DEFAULT 0,
		total_dispensed     BIGINT NOT NULL DEFAULT 0,
		unique_doctors      TEXT[] NOT NULL DEFAULT '{}',
		unique_chemists     TEXT[] NOT NULL DEFAULT '{}',
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS notification_outbox (
		id              BIGSERIAL PRIMARY KEY,
		prescription_id TEXT NOT NULL,
		recipient       TEXT NOT NULL,
		body            TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at    TIMESTAMPTZ,
		retry_count     INT NOT NULL DEFAULT 0,
		last_error      TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_outbox_pending
		ON notification_outbox (created_at) WHERE processed_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS transition_markers (
		marker_key TEXT PRIMARY KEY,
		handler    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates all tables used by the service.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
