package prescription

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// codeSpan covers [100000, 999999]: every code is exactly six digits.
var codeSpan = big.NewInt(900000)

// GenerateCode returns a 6-digit verification code, uniformly distributed.
// Codes are independent across calls and not globally unique.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// ContentHash computes the tamper-evidence digest over the identity-bearing
// fields of a prescription. The field order is fixed; the same inputs always
// produce the same digest.
func ContentHash(doctorID, patientName, patientPhone string, medicines []Medicine, createdAt time.Time) string {
	meds := make([]string, len(medicines))
	for i, m := range medicines {
		meds[i] = strings.Join([]string{m.Name, m.Dosage, m.Frequency, m.Timing, m.Duration}, ",")
	}

	parts := []string{
		doctorID,
		patientName,
		patientPhone,
		strings.Join(meds, ";"),
		createdAt.UTC().Format(time.RFC3339Nano),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
