package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/veriscript/lifecycle/internal/observability/metrics"
	"github.com/veriscript/lifecycle/pkg/workerpool"
)

// Dispatcher drains the notifications topic and delivers each message
// through the gateway. Delivery is best effort with bounded retries; a
// message that keeps failing is logged and dropped, never blocking the
// stream.
type Dispatcher struct {
	gateway *Gateway
	pool    *workerpool.Pool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(gateway *Gateway, poolCfg workerpool.Config, m *metrics.Metrics, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{gateway: gateway, metrics: m, logger: logger}

	pool, err := workerpool.New(poolCfg, d.deliver, logger)
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return d, nil
}

// Start launches delivery workers.
func (d *Dispatcher) Start() { d.pool.Start() }

// Stop drains in-flight deliveries.
func (d *Dispatcher) Stop() { d.pool.Stop() }

// HandleRecord accepts one consumed record. The error signals the consumer
// to retry the record later (queue full); a malformed payload is dropped.
func (d *Dispatcher) HandleRecord(ctx context.Context, key, value []byte) error {
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		d.logger.Error("malformed notification payload",
			zap.ByteString("key", key), zap.Error(err))
		return nil
	}

	return d.pool.Submit(&workerpool.Task{
		ID:      msg.PrescriptionID,
		Payload: &msg,
		Context: ctx,
	})
}

func (d *Dispatcher) deliver(ctx context.Context, task *workerpool.Task) error {
	msg, ok := task.Payload.(*Message)
	if !ok {
		return fmt.Errorf("unexpected task payload %T", task.Payload)
	}

	if err := d.gateway.Deliver(ctx, msg.To, msg.Body); err != nil {
		if d.metrics != nil {
			d.metrics.NotificationsFailed.Inc()
		}
		return err
	}

	if d.metrics != nil {
		d.metrics.NotificationsSent.Inc()
	}
	d.logger.Debug("notification delivered",
		zap.String("prescription_id", msg.PrescriptionID))
	return nil
}
