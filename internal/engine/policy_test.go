package engine

import (
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		want     Action
	}{
		{"first failure retries", 1, ActionRetry},
		{"second failure retries", 2, ActionRetry},
		{"third failure is final", 3, ActionFail},
		{"beyond the cap stays final", 4, ActionFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.attempts); got != tt.want {
				t.Errorf("Decide(%d) = %v, want %v", tt.attempts, got, tt.want)
			}
		})
	}
}

func TestNextAttemptAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := now.Add(5 * time.Minute)
	if got := NextAttemptAt(now); !got.Equal(want) {
		t.Errorf("NextAttemptAt = %v, want %v", got, want)
	}
}

func TestExhausted(t *testing.T) {
	tests := []struct {
		name         string
		attemptCount int
		maxAttempts  int
		want         bool
	}{
		{"fresh entry", 0, 3, false},
		{"one attempt left", 2, 3, false},
		{"budget spent", 3, 3, true},
		{"over budget", 4, 3, true},
		{"zero max falls back to default", 3, 0, true},
		{"zero max with attempts left", 2, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Exhausted(tt.attemptCount, tt.maxAttempts); got != tt.want {
				t.Errorf("Exhausted(%d, %d) = %v, want %v",
					tt.attemptCount, tt.maxAttempts, got, tt.want)
			}
		})
	}
}
