package timeutil

import (
	"testing"
	"time"
)

func TestRemainingSeconds(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      int
	}{
		{"zero expiry", time.Time{}, 0},
		{"already expired", now.Add(-10 * time.Second), 0},
		{"expires now", now, 0},
		{"sub-second remainder floors", now.Add(1500 * time.Millisecond), 1},
		{"thirty seconds", now.Add(30 * time.Second), 30},
		{"just under a second", now.Add(999 * time.Millisecond), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemainingSeconds(tt.expiresAt, now); got != tt.want {
				t.Errorf("RemainingSeconds() = %v, want %v", got, tt.want)
			}
		})
	}
}
