// Package handlers provides HTTP handlers for the lifecycle API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/veriscript/lifecycle/internal/api/middleware"
	"github.com/veriscript/lifecycle/internal/domain/prescription"
	"github.com/veriscript/lifecycle/internal/lifecycle"
)

// Service is the lifecycle surface the handler drives.
type Service interface {
	CreatePrescription(ctx context.Context, draft *prescription.Draft) (string, error)
	VerifyPrescription(ctx context.Context, id, code, actorID, originIP string) (*lifecycle.VerifyResult, error)
	Dispense(ctx context.Context, id string, actor lifecycle.Actor) (*prescription.Prescription, error)
	GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error)
	GetDoctorStats(ctx context.Context, doctorID string) (prescription.DoctorStats, error)
}

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	service Service
	logger  *zap.Logger
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(service Service, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{service: service, logger: logger}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/verify", h.Verify)
	r.Post("/{id}/dispense", h.Dispense)
	return r
}

// CreateResponse is the response for creating a prescription
type CreateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prescription-handler")
	ctx, span := tracer.Start(ctx, "create_prescription")
	defer span.End()

	var draft prescription.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.service.CreatePrescription(ctx, &draft)
	if err != nil {
		h.writeError(w, err)
		return
	}
	span.SetAttributes(attribute.String("prescription_id", id))

	h.logger.Info("prescription created",
		zap.String("id", id),
		zap.String("doctor_id", draft.DoctorID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResponse{ID: id, Status: string(prescription.StatusPending)})
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	p, err := h.service.GetPrescription(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// VerifyRequest is the patient-side verification payload
type VerifyRequest struct {
	Code string `json:"code"`
}

// Verify handles POST /prescriptions/{id}/verify
func (h *PrescriptionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Verification is open to patients; the actor falls back to anonymous
	// when the route is mounted without API key auth.
	actorID := middleware.GetClientID(ctx)
	result, err := h.service.VerifyPrescription(ctx, id, req.Code, actorID, middleware.ClientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// DispenseRequest identifies the chemist performing the dispense
type DispenseRequest struct {
	ChemistID        string `json:"chemistId"`
	ChemistName      string `json:"chemistName"`
	ChemistLicenseID string `json:"chemistLicenseId"`
}

// Dispense handles POST /prescriptions/{id}/dispense
func (h *PrescriptionHandler) Dispense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req DispenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := h.service.Dispense(ctx, id, lifecycle.Actor{
		ID:        req.ChemistID,
		Name:      req.ChemistName,
		LicenseID: req.ChemistLicenseID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("prescription dispensed",
		zap.String("id", id),
		zap.String("chemist_id", req.ChemistID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// DoctorStats handles GET /doctors/{id}/stats
func (h *PrescriptionHandler) DoctorStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	stats, err := h.service.GetDoctorStats(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (h *PrescriptionHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, prescription.ErrNotFound):
		h.jsonError(w, "prescription not found", http.StatusNotFound)
	case errors.Is(err, prescription.ErrInvalidArgument):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, prescription.ErrPermissionDenied):
		h.jsonError(w, "verification code mismatch", http.StatusForbidden)
	case errors.Is(err, prescription.ErrConflict):
		h.jsonError(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *PrescriptionHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
