// Package prescription defines the prescription entity and its lifecycle rules.
package prescription

import (
	"regexp"
	"strings"
	"time"
)

// Status represents prescription status
type Status string

const (
	StatusPending   Status = "pending"
	StatusDispensed Status = "dispensed"
	StatusExpired   Status = "expired"
	StatusError     Status = "error"
)

// transitions is the set of legal status edges. "pending" moves forward to a
// terminal state; "error" marks a failed post-creation processing step and may
// still be retried toward a terminal state.
var transitions = map[Status][]Status{
	StatusPending: {StatusDispensed, StatusExpired, StatusError},
	StatusError:   {StatusPending, StatusDispensed, StatusExpired},
}

// CanTransition reports whether the edge from -> to is legal.
// Terminal states (dispensed, expired) admit no further transitions.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Medicine is one entry in the ordered medicine list of a prescription.
type Medicine struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Timing    string `json:"timing"`
	Duration  string `json:"duration"`
}

// Prescription is the central record of the lifecycle. Dispensing fields are
// populated only after the pending -> dispensed transition; ErrorMessage only
// when post-creation processing failed.
type Prescription struct {
	ID               string     `json:"id"`
	DoctorID         string     `json:"doctorId"`
	DoctorName       string     `json:"doctorName"`
	PatientName      string     `json:"patientName"`
	PatientPhone     string     `json:"patientPhone"`
	Medicines        []Medicine `json:"medicines,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	VerificationCode string     `json:"verificationCode,omitempty"`
	ContentHash      string     `json:"contentHash,omitempty"`
	TokenURL         string     `json:"tokenUrl,omitempty"`
	Status           Status     `json:"status"`
	DispensedBy      string     `json:"dispensedBy,omitempty"`
	ChemistName      string     `json:"chemistName,omitempty"`
	ChemistLicenseID string     `json:"chemistLicenseId,omitempty"`
	DispensedAt      *time.Time `json:"dispensedAt,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Draft is the doctor-side submission used to create a prescription.
type Draft struct {
	DoctorID     string     `json:"doctorId"`
	DoctorName   string     `json:"doctorName"`
	PatientName  string     `json:"patientName"`
	PatientPhone string     `json:"patientPhone"`
	Medicines    []Medicine `json:"medicines"`
	Notes        string     `json:"notes,omitempty"`
}

// Indian mobile numbers: ten digits, leading 6-9.
var phonePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

// ValidPhone reports whether phone is a well-formed local mobile number.
// Whitespace is ignored, matching how numbers arrive from mobile clients.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(strings.ReplaceAll(phone, " ", ""))
}

// Validate checks the draft against creation constraints.
func (d *Draft) Validate() error {
	if strings.TrimSpace(d.DoctorID) == "" {
		return invalidArgument("doctorId is required")
	}
	if strings.TrimSpace(d.PatientName) == "" {
		return invalidArgument("patientName is required")
	}
	if !ValidPhone(d.PatientPhone) {
		return invalidArgument("patientPhone must be a valid 10-digit mobile number")
	}
	if len(d.Medicines) == 0 {
		return invalidArgument("at least one medicine is required")
	}
	for i, m := range d.Medicines {
		if strings.TrimSpace(m.Name) == "" {
			return invalidArgumentf("medicine %d has no name", i)
		}
	}
	return nil
}

// Clone returns a deep copy of the prescription.
func (p *Prescription) Clone() *Prescription {
	cp := *p
	if p.Medicines != nil {
		cp.Medicines = make([]Medicine, len(p.Medicines))
		copy(cp.Medicines, p.Medicines)
	}
	if p.DispensedAt != nil {
		t := *p.DispensedAt
		cp.DispensedAt = &t
	}
	return &cp
}

// Redacted returns a copy safe to show when the prescription has already been
// dispensed: the medicine list is withheld.
func (p *Prescription) Redacted() *Prescription {
	cp := p.Clone()
	cp.Medicines = nil
	return cp
}
