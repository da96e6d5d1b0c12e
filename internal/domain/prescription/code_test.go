package prescription

import (
	"regexp"
	"strconv"
	"testing"
	"time"
)

func TestGenerateCodeFormat(t *testing.T) {
	sixDigits := regexp.MustCompile(`^\d{6}$`)

	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode() error: %v", err)
		}
		if !sixDigits.MatchString(code) {
			t.Fatalf("code %q is not six digits", code)
		}
		n, _ := strconv.Atoi(code)
		if n < 100000 || n > 999999 {
			t.Fatalf("code %d outside [100000, 999999]", n)
		}
	}
}

func TestContentHashDeterministic(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	meds := []Medicine{
		{Name: "Paracetamol", Dosage: "500mg", Frequency: "twice daily", Timing: "after food", Duration: "5 days"},
		{Name: "Cetirizine", Dosage: "10mg", Frequency: "once daily", Timing: "night", Duration: "3 days"},
	}

	h1 := ContentHash("doc-001", "Ravi Kumar", "9876543210", meds, createdAt)
	h2 := ContentHash("doc-001", "Ravi Kumar", "9876543210", meds, createdAt)
	if h1 != h2 {
		t.Error("same inputs produced different hashes")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
}

func TestContentHashSensitivity(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	meds := []Medicine{{Name: "Paracetamol", Dosage: "500mg"}}
	base := ContentHash("doc-001", "Ravi Kumar", "9876543210", meds, createdAt)

	tests := []struct {
		name string
		hash string
	}{
		{"doctor changed", ContentHash("doc-002", "Ravi Kumar", "9876543210", meds, createdAt)},
		{"patient changed", ContentHash("doc-001", "Ravi K", "9876543210", meds, createdAt)},
		{"phone changed", ContentHash("doc-001", "Ravi Kumar", "9876543211", meds, createdAt)},
		{"medicine changed", ContentHash("doc-001", "Ravi Kumar", "9876543210",
			[]Medicine{{Name: "Paracetamol", Dosage: "650mg"}}, createdAt)},
		{"time changed", ContentHash("doc-001", "Ravi Kumar", "9876543210", meds, createdAt.Add(time.Second))},
	}

	for _, tt := range tests {
		if tt.hash == base {
			t.Errorf("%s: hash did not change", tt.name)
		}
	}
}

func TestContentHashTimezoneNormalized(t *testing.T) {
	utc := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	ist := utc.In(time.FixedZone("IST", 5*3600+1800))

	meds := []Medicine{{Name: "Paracetamol"}}
	if ContentHash("d", "p", "9876543210", meds, utc) != ContentHash("d", "p", "9876543210", meds, ist) {
		t.Error("equal instants in different zones produced different hashes")
	}
}
