package notification

import (
	"context"

	"github.com/veriscript/lifecycle/internal/infrastructure/postgres"
)

// Message is one SMS on the wire between the relay and the dispatcher.
type Message struct {
	PrescriptionID string `json:"prescription_id"`
	To             string `json:"to"`
	Body           string `json:"body"`
}

// OutboxNotifier queues messages in the notification outbox. This is the
// Notifier the lifecycle controller sees: enqueue is cheap and local, and the
// relay/dispatcher pair owns actual delivery.
type OutboxNotifier struct {
	outbox *postgres.Outbox
}

// NewOutboxNotifier creates an outbox-backed notifier.
func NewOutboxNotifier(outbox *postgres.Outbox) *OutboxNotifier {
	return &OutboxNotifier{outbox: outbox}
}

// Send queues the message for delivery.
func (n *OutboxNotifier) Send(ctx context.Context, prescriptionID, toPhone, body string) error {
	return n.outbox.Enqueue(ctx, prescriptionID, toPhone, body)
}
