package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veriscript/lifecycle/internal/domain/prescription"
	"github.com/veriscript/lifecycle/internal/lifecycle"
)

type fakeService struct {
	createID    string
	createErr   error
	verify      *lifecycle.VerifyResult
	verifyErr   error
	dispensed   *prescription.Prescription
	dispenseErr error
	record      *prescription.Prescription
	getErr      error
	stats       prescription.DoctorStats

	lastDraft *prescription.Draft
	lastActor lifecycle.Actor
	lastCode  string
}

func (f *fakeService) CreatePrescription(ctx context.Context, draft *prescription.Draft) (string, error) {
	f.lastDraft = draft
	return f.createID, f.createErr
}

func (f *fakeService) VerifyPrescription(ctx context.Context, id, code, actorID, originIP string) (*lifecycle.VerifyResult, error) {
	f.lastCode = code
	return f.verify, f.verifyErr
}

func (f *fakeService) Dispense(ctx context.Context, id string, actor lifecycle.Actor) (*prescription.Prescription, error) {
	f.lastActor = actor
	return f.dispensed, f.dispenseErr
}

func (f *fakeService) GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error) {
	return f.record, f.getErr
}

func (f *fakeService) GetDoctorStats(ctx context.Context, doctorID string) (prescription.DoctorStats, error) {
	return f.stats, nil
}

func serve(t *testing.T, svc *fakeService, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewPrescriptionHandler(svc, nil)

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestCreateHandler(t *testing.T) {
	svc := &fakeService{createID: "rx-1"}
	body := `{"doctorId":"doc-001","doctorName":"Asha Rao","patientName":"Ravi Kumar","patientPhone":"9876543210","medicines":[{"name":"Paracetamol"}]}`

	rec := serve(t, svc, http.MethodPost, "/", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}

	var resp CreateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "rx-1" || resp.Status != "pending" {
		t.Errorf("response = %+v", resp)
	}
	if svc.lastDraft == nil || svc.lastDraft.DoctorID != "doc-001" {
		t.Error("draft not forwarded to service")
	}
}

func TestCreateHandlerBadBody(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodPost, "/", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestVerifyHandler(t *testing.T) {
	svc := &fakeService{verify: &lifecycle.VerifyResult{Outcome: lifecycle.OutcomeSuccess}}

	rec := serve(t, svc, http.MethodPost, "/rx-1/verify", `{"code":"482913"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if svc.lastCode != "482913" {
		t.Errorf("code forwarded = %q", svc.lastCode)
	}

	var result lifecycle.VerifyResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Outcome != lifecycle.OutcomeSuccess {
		t.Errorf("outcome = %s", result.Outcome)
	}
}

func TestDispenseHandler(t *testing.T) {
	svc := &fakeService{dispensed: &prescription.Prescription{ID: "rx-1", Status: prescription.StatusDispensed}}
	body := `{"chemistId":"chem-1","chemistName":"City Pharmacy","chemistLicenseId":"LIC-42"}`

	rec := serve(t, svc, http.MethodPost, "/rx-1/dispense", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if svc.lastActor.ID != "chem-1" || svc.lastActor.LicenseID != "LIC-42" {
		t.Errorf("actor forwarded = %+v", svc.lastActor)
	}
}

func TestErrorMapping(t *testing.T) {
	wrap := func(sentinel error) error { return fmt.Errorf("%w: detail", sentinel) }

	tests := []struct {
		name string
		svc  *fakeService
		path string
		want int
	}{
		{"not found", &fakeService{getErr: wrap(prescription.ErrNotFound)}, "/rx-404", http.StatusNotFound},
		{"conflict", &fakeService{dispenseErr: wrap(prescription.ErrConflict)}, "/rx-1/dispense", http.StatusConflict},
		{"permission denied", &fakeService{verifyErr: wrap(prescription.ErrPermissionDenied)}, "/rx-1/verify", http.StatusForbidden},
		{"invalid argument", &fakeService{createErr: wrap(prescription.ErrInvalidArgument)}, "/", http.StatusBadRequest},
		{"internal", &fakeService{getErr: fmt.Errorf("connection reset")}, "/rx-1", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if tt.name == "not found" || tt.name == "internal" {
				method = http.MethodGet
			}
			rec := serve(t, tt.svc, method, tt.path, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
		})
	}
}
