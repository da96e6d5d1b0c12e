// Package lifecycle implements the prescription lifecycle controller: the one
// authoritative implementation of creation, verification, dispensing and
// expiry. Client-side copies of these rules are latency optimizations only;
// everything that matters is re-checked here.
package lifecycle

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/veriscript/lifecycle/internal/analytics"
	"github.com/veriscript/lifecycle/internal/audit"
	"github.com/veriscript/lifecycle/internal/domain/prescription"
	"github.com/veriscript/lifecycle/internal/notification"
	"github.com/veriscript/lifecycle/internal/observability/metrics"
)

// Store is the durable prescription record, the single point of truth. Its
// conditional writes are the only atomicity primitive the controller relies
// on.
type Store interface {
	Get(ctx context.Context, id string) (*prescription.Prescription, error)
	Create(ctx context.Context, p *prescription.Prescription) (string, error)
	ConditionalUpdate(ctx context.Context, id string, expected prescription.Status, patch prescription.Patch) error
	QueryIDs(ctx context.Context, status prescription.Status, olderThan time.Time, limit int) ([]string, error)
	BatchUpdateStatus(ctx context.Context, ids []string, from, to prescription.Status) (int64, error)
	DoctorStats(ctx context.Context, doctorID string) (prescription.DoctorStats, error)
}

// Notifier queues a one-way message to a phone number. Fire-and-forget:
// failures are logged by the controller and never block a transition.
type Notifier interface {
	Send(ctx context.Context, prescriptionID, toPhone, body string) error
}

// AuditLog is the append-only ledger of lifecycle events.
type AuditLog interface {
	Append(ctx context.Context, entry audit.Entry) error
}

// Analytics receives one merge per dispensing event.
type Analytics interface {
	Merge(ctx context.Context, date, doctorID, chemistID string) error
}

// TransitionMarkers claims a first-fire marker for a transition key, so that
// redelivered change notifications do not repeat side effects.
type TransitionMarkers interface {
	FirstFire(ctx context.Context, key, handler string) (bool, error)
}

// Config holds controller configuration.
type Config struct {
	// VerifyWindow is how long after creation a prescription can be
	// verified. Distinct from SweepWindow even though both default to 30
	// days; product treats them as independently tunable.
	VerifyWindow time.Duration
	// SweepWindow is the administrative age threshold for the expiry sweep.
	SweepWindow time.Duration
	// SweepBatchSize bounds each atomic sweep commit.
	SweepBatchSize int
	// VerifyBaseURL is the public base for shareable verification links.
	VerifyBaseURL string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		VerifyWindow:   30 * 24 * time.Hour,
		SweepWindow:    30 * 24 * time.Hour,
		SweepBatchSize: 500,
		VerifyBaseURL:  "https://veriscript.app",
	}
}

// Controller orchestrates the prescription lifecycle over its collaborators.
// All dependencies are injected; the controller holds no ambient state.
type Controller struct {
	store     Store
	auditLog  AuditLog
	notifier  Notifier
	analytics Analytics
	markers   TransitionMarkers
	metrics   *metrics.Metrics
	config    Config
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a controller. markers and m may be nil; the edge check alone
// then guards dispensing side effects and no metrics are recorded.
func New(store Store, auditLog AuditLog, notifier Notifier, an Analytics, markers TransitionMarkers, m *metrics.Metrics, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerifyWindow <= 0 {
		cfg.VerifyWindow = DefaultConfig().VerifyWindow
	}
	if cfg.SweepWindow <= 0 {
		cfg.SweepWindow = DefaultConfig().SweepWindow
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = DefaultConfig().SweepBatchSize
	}
	if cfg.VerifyBaseURL == "" {
		cfg.VerifyBaseURL = DefaultConfig().VerifyBaseURL
	}
	return &Controller{
		store:     store,
		auditLog:  auditLog,
		notifier:  notifier,
		analytics: an,
		markers:   markers,
		metrics:   m,
		config:    cfg,
		logger:    logger,
		tracer:    otel.Tracer("lifecycle-controller"),
		now:       time.Now,
	}
}

// CreatePrescription validates the draft, persists a pending prescription
// with a fresh verification code and content hash, then queues the patient
// SMS and writes the creation audit entry. Side effects after the persist are
// individually fault tolerant: a failure flips the record to error status
// with the message recorded, but the record stays and the id is still
// returned.
func (c *Controller) CreatePrescription(ctx context.Context, draft *prescription.Draft) (string, error) {
	ctx, span := c.tracer.Start(ctx, "create_prescription")
	defer span.End()
	defer c.observe("create", c.now())

	if err := draft.Validate(); err != nil {
		return "", err
	}

	code, err := prescription.GenerateCode()
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	createdAt := c.now().UTC()
	span.SetAttributes(attribute.String("prescription_id", id))

	p := &prescription.Prescription{
		ID:               id,
		DoctorID:         draft.DoctorID,
		DoctorName:       draft.DoctorName,
		PatientName:      draft.PatientName,
		PatientPhone:     draft.PatientPhone,
		Medicines:        draft.Medicines,
		Notes:            draft.Notes,
		VerificationCode: code,
		ContentHash: prescription.ContentHash(
			draft.DoctorID, draft.PatientName, draft.PatientPhone, draft.Medicines, createdAt),
		TokenURL:  fmt.Sprintf("%s/patient/view?id=%s&code=%s", c.config.VerifyBaseURL, id, code),
		Status:    prescription.StatusPending,
		CreatedAt: createdAt,
	}

	if _, err := c.store.Create(ctx, p); err != nil {
		span.RecordError(err)
		return "", err
	}

	if err := c.runCreationSideEffects(ctx, p); err != nil {
		c.logger.Error("post-creation processing failed",
			zap.String("prescription_id", id), zap.Error(err))
		c.markError(ctx, id, err)
		if c.metrics != nil {
			c.metrics.PrescriptionsFailed.Inc()
		}
		return id, nil
	}

	if c.metrics != nil {
		c.metrics.PrescriptionsCreated.Inc()
	}
	c.logger.Info("prescription created",
		zap.String("prescription_id", id),
		zap.String("doctor_id", draft.DoctorID),
		zap.Int("medicines", len(draft.Medicines)))
	return id, nil
}

func (c *Controller) runCreationSideEffects(ctx context.Context, p *prescription.Prescription) error {
	body := notification.CreatedMessage(p.DoctorName, p.VerificationCode, p.TokenURL)
	if err := c.notifier.Send(ctx, p.ID, p.PatientPhone, body); err != nil {
		return fmt.Errorf("queue patient notification: %w", err)
	}

	err := c.auditLog.Append(ctx, audit.Entry{
		PrescriptionID: p.ID,
		Action:         audit.ActionPrescriptionCreated,
		ActorID:        p.DoctorID,
		Metadata: map[string]string{
			"patientPhone":  p.PatientPhone,
			"medicineCount": strconv.Itoa(len(p.Medicines)),
		},
	})
	if err != nil {
		return fmt.Errorf("append creation audit entry: %w", err)
	}
	return nil
}

// markError records a failed post-creation processing step. The record is
// kept for a retry or manual recovery path.
func (c *Controller) markError(ctx context.Context, id string, cause error) {
	status := prescription.StatusError
	msg := cause.Error()
	err := c.store.ConditionalUpdate(ctx, id, prescription.StatusPending, prescription.Patch{
		Status:       &status,
		ErrorMessage: &msg,
	})
	if err != nil {
		c.logger.Error("failed to record error status",
			zap.String("prescription_id", id), zap.Error(err))
	}
}

// VerifyOutcome classifies a verification response.
type VerifyOutcome string

const (
	OutcomeSuccess          VerifyOutcome = "success"
	OutcomeAlreadyDispensed VerifyOutcome = "already_dispensed"
	OutcomeExpired          VerifyOutcome = "expired"
)

// VerifyResult is the patient-facing verification response.
type VerifyResult struct {
	Outcome      VerifyOutcome              `json:"outcome"`
	Prescription *prescription.Prescription `json:"prescription,omitempty"`
	ExpiresAt    time.Time                  `json:"expiresAt,omitempty"`
}

// VerifyPrescription checks a submitted code against the stored record.
// Each attempt, successful or not, appends its own audit entry; repeated
// calls append repeated entries because each attempt is a discrete event.
// No status is mutated here, even for an expired record: expiry of the
// stored status belongs to the sweep.
func (c *Controller) VerifyPrescription(ctx context.Context, id, code, actorID, originIP string) (*VerifyResult, error) {
	ctx, span := c.tracer.Start(ctx, "verify_prescription",
		trace.WithAttributes(attribute.String("prescription_id", id)))
	defer span.End()
	defer c.observe("verify", c.now())

	if id == "" || code == "" {
		return nil, fmt.Errorf("%w: prescription id and verification code are required", prescription.ErrInvalidArgument)
	}

	p, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(p.VerificationCode), []byte(code)) != 1 {
		c.appendAudit(ctx, audit.Entry{
			PrescriptionID: id,
			Action:         audit.ActionVerificationFailed,
			ActorID:        actorID,
			Metadata:       map[string]string{"reason": "invalid verification code"},
			OriginIP:       originIP,
		})
		if c.metrics != nil {
			c.metrics.VerificationsFailed.Inc()
		}
		return nil, fmt.Errorf("%w: invalid verification code", prescription.ErrPermissionDenied)
	}

	if p.Status == prescription.StatusDispensed {
		span.SetAttributes(attribute.String("outcome", string(OutcomeAlreadyDispensed)))
		return &VerifyResult{
			Outcome:      OutcomeAlreadyDispensed,
			Prescription: p.Redacted(),
		}, nil
	}

	expiresAt := p.CreatedAt.Add(c.config.VerifyWindow)
	if c.now().After(expiresAt) {
		span.SetAttributes(attribute.String("outcome", string(OutcomeExpired)))
		return &VerifyResult{Outcome: OutcomeExpired, ExpiresAt: expiresAt}, nil
	}

	c.appendAudit(ctx, audit.Entry{
		PrescriptionID: id,
		Action:         audit.ActionVerificationSuccess,
		ActorID:        actorID,
		OriginIP:       originIP,
	})
	if c.metrics != nil {
		c.metrics.VerificationsSucceeded.Inc()
	}
	span.SetAttributes(attribute.String("outcome", string(OutcomeSuccess)))
	return &VerifyResult{Outcome: OutcomeSuccess, Prescription: p}, nil
}

// Actor identifies the chemist performing a dispensing.
type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LicenseID string `json:"licenseId"`
}

// Dispense transitions a pending prescription to dispensed, filling the
// dispensing fields, then fires the transition side effects. The write is
// conditioned on the record still being pending; losing that race returns
// ErrConflict and fires nothing.
func (c *Controller) Dispense(ctx context.Context, id string, actor Actor) (*prescription.Prescription, error) {
	ctx, span := c.tracer.Start(ctx, "dispense_prescription",
		trace.WithAttributes(attribute.String("prescription_id", id)))
	defer span.End()
	defer c.observe("dispense", c.now())

	if actor.ID == "" || actor.LicenseID == "" {
		return nil, fmt.Errorf("%w: dispensing actor id and license id are required", prescription.ErrInvalidArgument)
	}

	before, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !prescription.CanTransition(before.Status, prescription.StatusDispensed) {
		return nil, fmt.Errorf("%w: prescription is %s", prescription.ErrConflict, before.Status)
	}

	dispensedAt := c.now().UTC()
	status := prescription.StatusDispensed
	err = c.store.ConditionalUpdate(ctx, id, before.Status, prescription.Patch{
		Status:           &status,
		DispensedBy:      &actor.ID,
		ChemistName:      &actor.Name,
		ChemistLicenseID: &actor.LicenseID,
		DispensedAt:      &dispensedAt,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	after := before.Clone()
	after.Status = prescription.StatusDispensed
	after.DispensedBy = actor.ID
	after.ChemistName = actor.Name
	after.ChemistLicenseID = actor.LicenseID
	after.DispensedAt = &dispensedAt

	c.OnDispensedTransition(ctx, before, after)
	return after, nil
}

// OnDispensedTransition fires dispensing side effects for a committed status
// change. It is a pure function of the before/after pair: only the edge into
// dispensed is action-worthy, and a persisted first-fire marker absorbs
// redelivery of the same change. Side-effect failures are logged and never
// roll back the committed transition.
func (c *Controller) OnDispensedTransition(ctx context.Context, before, after *prescription.Prescription) {
	if before.Status == prescription.StatusDispensed || after.Status != prescription.StatusDispensed {
		return
	}

	ctx, span := c.tracer.Start(ctx, "on_dispensed_transition",
		trace.WithAttributes(attribute.String("prescription_id", after.ID)))
	defer span.End()

	if c.markers != nil {
		first, err := c.markers.FirstFire(ctx, "dispensed:"+after.ID, "on_dispensed_transition")
		if err != nil {
			c.logger.Error("transition marker claim failed",
				zap.String("prescription_id", after.ID), zap.Error(err))
			return
		}
		if !first {
			span.SetAttributes(attribute.Bool("duplicate", true))
			return
		}
	}

	body := notification.DispensedMessage(after.ChemistName, after.ChemistLicenseID)
	if err := c.notifier.Send(ctx, after.ID, after.PatientPhone, body); err != nil {
		c.logger.Error("failed to queue dispensing confirmation",
			zap.String("prescription_id", after.ID), zap.Error(err))
	}

	c.appendAudit(ctx, audit.Entry{
		PrescriptionID: after.ID,
		Action:         audit.ActionPrescriptionDispensed,
		ActorID:        after.DispensedBy,
		Metadata: map[string]string{
			"chemistName":      after.ChemistName,
			"chemistLicenseId": after.ChemistLicenseID,
		},
	})

	if err := c.analytics.Merge(ctx, analytics.DateKey(c.now()), after.DoctorID, after.DispensedBy); err != nil {
		c.logger.Error("analytics merge failed",
			zap.String("prescription_id", after.ID), zap.Error(err))
	}

	if c.metrics != nil {
		c.metrics.PrescriptionsDispensed.Inc()
	}
	c.logger.Info("prescription dispensed",
		zap.String("prescription_id", after.ID),
		zap.String("chemist_id", after.DispensedBy))
}

// SweepExpired transitions every pending prescription older than the sweep
// window to expired and returns the count. Batches are bounded and each
// batch write is conditioned on the row still being pending, so concurrent
// sweeps and in-flight dispensing calls compose: a record dispensed mid-sweep
// stays dispensed. Safe to re-run after partial failure.
func (c *Controller) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := c.tracer.Start(ctx, "sweep_expired")
	defer span.End()

	cutoff := now.Add(-c.config.SweepWindow)
	var total int64

	for {
		ids, err := c.store.QueryIDs(ctx, prescription.StatusPending, cutoff, c.config.SweepBatchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			break
		}

		n, err := c.store.BatchUpdateStatus(ctx, ids, prescription.StatusPending, prescription.StatusExpired)
		if err != nil {
			return total, err
		}
		total += n

		if len(ids) < c.config.SweepBatchSize {
			break
		}
	}

	span.SetAttributes(attribute.Int64("expired", total))
	if c.metrics != nil {
		c.metrics.PrescriptionsExpired.Add(float64(total))
	}
	if total > 0 {
		c.logger.Info("expiry sweep completed", zap.Int64("expired", total))
	}
	return total, nil
}

// GetDoctorStats returns per-status prescription counts for one doctor.
func (c *Controller) GetDoctorStats(ctx context.Context, doctorID string) (prescription.DoctorStats, error) {
	if doctorID == "" {
		return prescription.DoctorStats{}, fmt.Errorf("%w: doctor id is required", prescription.ErrInvalidArgument)
	}
	return c.store.DoctorStats(ctx, doctorID)
}

// GetPrescription returns the stored record.
func (c *Controller) GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error) {
	return c.store.Get(ctx, id)
}

// appendAudit logs failures instead of propagating them: the ledger append
// accompanies a lifecycle step, it does not gate it.
func (c *Controller) appendAudit(ctx context.Context, entry audit.Entry) {
	if err := c.auditLog.Append(ctx, entry); err != nil {
		c.logger.Error("audit append failed",
			zap.String("prescription_id", entry.PrescriptionID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}

func (c *Controller) observe(operation string, start time.Time) {
	if c.metrics != nil {
		c.metrics.OperationDuration.WithLabelValues(operation).Observe(c.now().Sub(start).Seconds())
	}
}
