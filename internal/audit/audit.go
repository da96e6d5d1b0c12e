// Package audit implements the append-only audit ledger for prescription
// lifecycle events.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Action tags the kind of lifecycle event being recorded.
type Action string

const (
	ActionPrescriptionCreated   Action = "PRESCRIPTION_CREATED"
	ActionPrescriptionDispensed Action = "PRESCRIPTION_DISPENSED"
	ActionVerificationFailed    Action = "VERIFICATION_FAILED"
	ActionVerificationSuccess   Action = "VERIFICATION_SUCCESS"
)

// AnonymousActor is recorded when the acting party is unauthenticated.
const AnonymousActor = "anonymous"

// Entry is one immutable audit record. Timestamp is assigned at write time by
// the store, not by the caller.
type Entry struct {
	PrescriptionID string            `json:"prescription_id"`
	Action         Action            `json:"action"`
	ActorID        string            `json:"actor_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	OriginIP       string            `json:"origin_ip,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Publisher streams a copy of each entry to the audit trail topic.
// Best-effort: publish failures never reach the caller.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Writer appends entries to the audit_logs table. It is a write-only ledger;
// no query surface is exposed here.
type Writer struct {
	pool      *pgxpool.Pool
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewWriter creates an audit writer. publisher may be nil to disable the
// streamed copy.
func NewWriter(pool *pgxpool.Pool, publisher Publisher, topic string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{pool: pool, publisher: publisher, topic: topic, logger: logger}
}

// Append writes one entry. The insert is the authoritative record; the Kafka
// copy is fire-and-forget.
func (w *Writer) Append(ctx context.Context, entry Entry) error {
	if entry.ActorID == "" {
		entry.ActorID = AnonymousActor
	}

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (prescription_id, action, actor_id, metadata, origin_ip)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING timestamp
	`
	err = w.pool.QueryRow(ctx, query,
		entry.PrescriptionID, entry.Action, entry.ActorID, metadata, entry.OriginIP,
	).Scan(&entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	if w.publisher != nil {
		payload, err := json.Marshal(entry)
		if err == nil {
			err = w.publisher.Publish(ctx, w.topic, entry.PrescriptionID, payload)
		}
		if err != nil {
			w.logger.Warn("audit trail publish failed",
				zap.String("prescription_id", entry.PrescriptionID),
				zap.String("action", string(entry.Action)),
				zap.Error(err))
		}
	}

	return nil
}
