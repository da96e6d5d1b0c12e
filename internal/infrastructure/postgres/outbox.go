// Notification outbox. SMS dispatch is decoupled from the lifecycle
// operations that trigger it: the operation enqueues a row, and the relay
// publishes committed rows to the notifications topic. The authoritative state
// change never waits on, or fails because of, delivery.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OutboxEntry is one queued notification.
type OutboxEntry struct {
	ID             int64
	PrescriptionID string
	Recipient      string
	Body           string
	CreatedAt      time.Time
	ProcessedAt    *time.Time
	RetryCount     int
	LastError      *string
}

// OutboxConfig holds configuration for the outbox relay.
type OutboxConfig struct {
	// BatchSize is the number of entries to publish per poll.
	BatchSize int
	// PollInterval is how often to poll for new entries.
	PollInterval time.Duration
	// MaxRetries is the maximum publish attempts before dead-lettering.
	MaxRetries int
	// Topic is the Kafka topic committed entries are published to.
	Topic string
	// DeadLetterTopic receives entries that exhausted their retries.
	DeadLetterTopic string
}

// DefaultOutboxConfig returns sensible defaults.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:       100,
		PollInterval:    250 * time.Millisecond,
		MaxRetries:      5,
		Topic:           "veriscript.notifications",
		DeadLetterTopic: "veriscript.dead.letter",
	}
}

// OutboxPublisher publishes relay payloads to a topic.
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Outbox stores and relays queued notifications.
type Outbox struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutbox creates an outbox. The publisher is only needed by the relay
// process; enqueue-only users may pass nil.
func NewOutbox(pool *pgxpool.Pool, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Outbox{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("notification-outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Enqueue records a notification for later delivery.
func (o *Outbox) Enqueue(ctx context.Context, prescriptionID, recipient, body string) error {
	query := `
		INSERT INTO notification_outbox (prescription_id, recipient, body)
		VALUES ($1, $2, $3)
	`
	if _, err := o.pool.Exec(ctx, query, prescriptionID, recipient, body); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// Start begins polling and publishing queued entries.
func (o *Outbox) Start() {
	go o.relayLoop()
	o.logger.Info("notification outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop gracefully stops the relay.
func (o *Outbox) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("notification outbox relay stopped")
}

func (o *Outbox) relayLoop() {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.relayBatch()
		}
	}
}

// relayAdvisoryLockID serializes relays across replicas.
const relayAdvisoryLockID = int64(794201)

func (o *Outbox) relayBatch() {
	ctx, span := o.tracer.Start(o.ctx, "outbox_relay_batch")
	defer span.End()

	var acquired bool
	err := o.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", relayAdvisoryLockID).Scan(&acquired)
	if err != nil || !acquired {
		return // another relay holds the lock
	}
	defer o.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", relayAdvisoryLockID)

	entries, err := o.fetchPending(ctx)
	if err != nil {
		o.logger.Error("failed to fetch outbox entries", zap.Error(err))
		span.RecordError(err)
		return
	}
	if len(entries) == 0 {
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := o.relayEntry(ctx, entry); err != nil {
			o.logger.Error("failed to relay outbox entry",
				zap.Int64("id", entry.ID),
				zap.String("prescription_id", entry.PrescriptionID),
				zap.Error(err))
		}
	}
}

func (o *Outbox) fetchPending(ctx context.Context) ([]*OutboxEntry, error) {
	query := `
		SELECT id, prescription_id, recipient, body, created_at, retry_count, last_error
		FROM notification_outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := o.pool.Query(ctx, query, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.PrescriptionID, &entry.Recipient, &entry.Body,
			&entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (o *Outbox) relayEntry(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_relay_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("prescription_id", entry.PrescriptionID),
		))
	defer span.End()

	payload, err := json.Marshal(map[string]string{
		"prescription_id": entry.PrescriptionID,
		"to":              entry.Recipient,
		"body":            entry.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	if err := o.publisher.Publish(ctx, o.config.Topic, entry.PrescriptionID, payload); err != nil {
		errStr := err.Error()
		updateQuery := `
			UPDATE notification_outbox
			SET retry_count = retry_count + 1, last_error = $1
			WHERE id = $2
		`
		if _, updateErr := o.pool.Exec(ctx, updateQuery, errStr, entry.ID); updateErr != nil {
			o.logger.Error("failed to record relay error", zap.Error(updateErr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish notification: %w", err)
	}

	if _, err := o.pool.Exec(ctx,
		`UPDATE notification_outbox SET processed_at = NOW() WHERE id = $1`, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark notification processed: %w", err)
	}

	o.logger.Debug("notification relayed",
		zap.Int64("id", entry.ID),
		zap.String("prescription_id", entry.PrescriptionID))
	return nil
}

// MoveToDeadLetter publishes entries that exhausted their retries to the dead
// letter topic and marks them processed. Returns the number moved.
func (o *Outbox) MoveToDeadLetter(ctx context.Context) (int64, error) {
	query := `
		SELECT id, prescription_id, recipient, body, created_at, retry_count, last_error
		FROM notification_outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := o.pool.Query(ctx, query, o.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query dead entries: %w", err)
	}
	defer rows.Close()

	var stale []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.PrescriptionID, &entry.Recipient, &entry.Body,
			&entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			continue
		}
		stale = append(stale, entry)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var count int64
	for _, entry := range stale {
		payload, _ := json.Marshal(map[string]any{
			"prescription_id": entry.PrescriptionID,
			"recipient":       entry.Recipient,
			"retry_count":     entry.RetryCount,
			"last_error":      entry.LastError,
			"created_at":      entry.CreatedAt,
		})
		if err := o.publisher.Publish(ctx, o.config.DeadLetterTopic, entry.PrescriptionID, payload); err != nil {
			o.logger.Error("failed to publish to dead letter", zap.Error(err))
			continue
		}
		if _, err := o.pool.Exec(ctx,
			`UPDATE notification_outbox SET processed_at = NOW() WHERE id = $1`, entry.ID); err != nil {
			o.logger.Error("failed to mark dead-lettered entry", zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// CleanupProcessed removes processed entries older than the given age.
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM notification_outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval
	`
	tag, err := o.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("outbox cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingCount reports queued entries still awaiting relay.
func (o *Outbox) PendingCount(ctx context.Context) (int64, error) {
	var pending int64
	err := o.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification_outbox WHERE processed_at IS NULL AND retry_count < $1`,
		o.config.MaxRetries).Scan(&pending)
	if err != nil {
		return 0, fmt.Errorf("outbox pending count: %w", err)
	}
	return pending, nil
}
