// Package postgres provides PostgreSQL infrastructure components: the
// prescription store and the notification outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/veriscript/lifecycle/internal/domain/prescription"
)

// Store is the durable prescription record and the only writer of status
// transitions.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewStore creates a prescription store.
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger, tracer: otel.Tracer("prescription-store")}
}

const prescriptionColumns = `
	id, doctor_id, doctor_name, patient_name, patient_phone, medicines, notes,
	verification_code, content_hash, token_url, status,
	dispensed_by, chemist_name, chemist_license_id, dispensed_at,
	error_message, created_at, updated_at
`

// Create persists a new prescription and returns its identifier.
func (s *Store) Create(ctx context.Context, p *prescription.Prescription) (string, error) {
	ctx, span := s.tracer.Start(ctx, "store_create",
		trace.WithAttributes(attribute.String("prescription_id", p.ID)))
	defer span.End()

	medicines, err := json.Marshal(p.Medicines)
	if err != nil {
		return "", fmt.Errorf("marshal medicines: %w", err)
	}

	query := `
		INSERT INTO prescriptions
			(id, doctor_id, doctor_name, patient_name, patient_phone, medicines, notes,
			 verification_code, content_hash, token_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	var id string
	err = s.pool.QueryRow(ctx, query,
		p.ID, p.DoctorID, p.DoctorName, p.PatientName, p.PatientPhone,
		medicines, p.Notes, p.VerificationCode, p.ContentHash, p.TokenURL,
		p.Status, p.CreatedAt,
	).Scan(&id)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("insert prescription: %w", err)
	}
	return id, nil
}

// Get retrieves a prescription by id.
func (s *Store) Get(ctx context.Context, id string) (*prescription.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)

	p, err := scanPrescription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, prescription.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

// ConditionalUpdate applies patch only while the record still has
// expectedStatus at write time. A lost race surfaces as ErrConflict when the
// record exists, ErrNotFound when it does not.
func (s *Store) ConditionalUpdate(ctx context.Context, id string, expected prescription.Status, patch prescription.Patch) error {
	ctx, span := s.tracer.Start(ctx, "store_conditional_update",
		trace.WithAttributes(
			attribute.String("prescription_id", id),
			attribute.String("expected_status", string(expected)),
		))
	defer span.End()

	set := "updated_at = NOW()"
	args := []any{id, expected}
	add := func(column string, v any) {
		args = append(args, v)
		set += fmt.Sprintf(", %s = $%d", column, len(args))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.VerificationCode != nil {
		add("verification_code", *patch.VerificationCode)
	}
	if patch.ContentHash != nil {
		add("content_hash", *patch.ContentHash)
	}
	if patch.TokenURL != nil {
		add("token_url", *patch.TokenURL)
	}
	if patch.DispensedBy != nil {
		add("dispensed_by", *patch.DispensedBy)
	}
	if patch.ChemistName != nil {
		add("chemist_name", *patch.ChemistName)
	}
	if patch.ChemistLicenseID != nil {
		add("chemist_license_id", *patch.ChemistLicenseID)
	}
	if patch.DispensedAt != nil {
		add("dispensed_at", *patch.DispensedAt)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}

	query := fmt.Sprintf(`UPDATE prescriptions SET %s WHERE id = $1 AND status = $2`, set)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conditional update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM prescriptions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("conditional update: %w", err)
		}
		if !exists {
			return prescription.ErrNotFound
		}
		return prescription.ErrConflict
	}
	return nil
}

// QueryIDs lists ids of prescriptions with the given status created before
// olderThan, oldest first, bounded by limit.
func (s *Store) QueryIDs(ctx context.Context, status prescription.Status, olderThan time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM prescriptions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, status, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan prescription id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BatchUpdateStatus flips every listed prescription from one status to
// another in a single statement. The status guard makes the batch safe to
// re-run and safe against records transitioned by a concurrent caller: rows
// no longer in the from status are simply skipped. Returns the number of rows
// transitioned.
func (s *Store) BatchUpdateStatus(ctx context.Context, ids []string, from, to prescription.Status) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, span := s.tracer.Start(ctx, "store_batch_update_status",
		trace.WithAttributes(
			attribute.Int("batch_size", len(ids)),
			attribute.String("from", string(from)),
			attribute.String("to", string(to)),
		))
	defer span.End()

	query := `
		UPDATE prescriptions
		SET status = $1, updated_at = NOW()
		WHERE id = ANY($2) AND status = $3
	`
	tag, err := s.pool.Exec(ctx, query, to, ids, from)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("batch status update: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DoctorStats returns prescription counts by status for one doctor.
func (s *Store) DoctorStats(ctx context.Context, doctorID string) (prescription.DoctorStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'dispensed') AS dispensed,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'expired') AS expired
		FROM prescriptions
		WHERE doctor_id = $1
	`
	var stats prescription.DoctorStats
	err := s.pool.QueryRow(ctx, query, doctorID).Scan(
		&stats.Total, &stats.Dispensed, &stats.Pending, &stats.Expired,
	)
	if err != nil {
		return prescription.DoctorStats{}, fmt.Errorf("doctor stats: %w", err)
	}
	return stats, nil
}

func scanPrescription(row pgx.Row) (*prescription.Prescription, error) {
	p := &prescription.Prescription{}
	var medicines []byte
	var notes, code, hash, tokenURL, dispensedBy, chemistName, chemistLicense, errMsg *string
	var dispensedAt *time.Time

	err := row.Scan(
		&p.ID, &p.DoctorID, &p.DoctorName, &p.PatientName, &p.PatientPhone,
		&medicines, &notes, &code, &hash, &tokenURL, &p.Status,
		&dispensedBy, &chemistName, &chemistLicense, &dispensedAt,
		&errMsg, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(medicines) > 0 {
		if err := json.Unmarshal(medicines, &p.Medicines); err != nil {
			return nil, fmt.Errorf("unmarshal medicines: %w", err)
		}
	}
	p.Notes = deref(notes)
	p.VerificationCode = deref(code)
	p.ContentHash = deref(hash)
	p.TokenURL = deref(tokenURL)
	p.DispensedBy = deref(dispensedBy)
	p.ChemistName = deref(chemistName)
	p.ChemistLicenseID = deref(chemistLicense)
	p.ErrorMessage = deref(errMsg)
	p.DispensedAt = dispensedAt
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
