package analytics

import (
	"testing"
	"time"
)

func TestDateKey(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"utc midnight", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-03-01"},
		{"utc end of day", time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC), "2024-03-01"},
		{
			// 01:30 IST is still the previous UTC day.
			"zone normalized",
			time.Date(2024, 3, 2, 1, 30, 0, 0, time.FixedZone("IST", 5*3600+1800)),
			"2024-03-01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DateKey(tt.in); got != tt.want {
				t.Errorf("DateKey(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
