// Package notification handles patient-facing SMS: message templates, the
// outbox-backed enqueuer, the gateway client and the consuming dispatcher.
package notification

import "fmt"

// CreatedMessage is the SMS sent to the patient when a prescription is
// issued. It carries the one-time code and the shareable verification link.
func CreatedMessage(doctorName, code, tokenURL string) string {
	return fmt.Sprintf(
		"VeriScript Prescription from Dr. %s\n\nVerification Code: %s\n\nView: %s\n\nValid for 30 days. Do not share this code.",
		doctorName, code, tokenURL)
}

// DispensedMessage is the confirmation SMS sent after dispensing, naming the
// chemist and their license.
func DispensedMessage(chemistName, licenseID string) string {
	return fmt.Sprintf(
		"Your VeriScript prescription has been dispensed by %s (License: %s).\n\nThank you for using VeriScript.",
		chemistName, licenseID)
}
