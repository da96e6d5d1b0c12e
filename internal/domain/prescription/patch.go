package prescription

import "time"

// Patch is the set of fields a conditional update may change. Nil fields are
// left untouched.
type Patch struct {
	Status           *Status
	VerificationCode *string
	ContentHash      *string
	TokenURL         *string
	DispensedBy      *string
	ChemistName      *string
	ChemistLicenseID *string
	DispensedAt      *time.Time
	ErrorMessage     *string
}

// DoctorStats are per-doctor prescription counts by status.
type DoctorStats struct {
	Total     int64 `json:"total"`
	Dispensed int64 `json:"dispensed"`
	Pending   int64 `json:"pending"`
	Expired   int64 `json:"expired"`
}
