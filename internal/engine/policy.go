package engine

import (
	"time"
)

// Queue processing policy. These are deliberate constants, not configuration:
// the backoff is fixed-delay rather than exponential, and the attempt cap is
// global rather than per-dispatch.
const (
	// BatchSize bounds how many entries one RunOnce invocation may claim.
	BatchSize = 10

	// MaxAttempts is the total number of delivery attempts before an entry
	// fails permanently.
	MaxAttempts = 3

	// RetryDelay is how long a failed entry waits before becoming due again.
	RetryDelay = 5 * time.Minute

	// ClaimLease is how long an in_progress claim is honored before another
	// worker may assume the claimant crashed and take the entry over.
	ClaimLease = 15 * time.Minute
)

// Action is the outcome of the retry policy for one failed attempt.
type Action int

const (
	// ActionRetry reschedules the entry with a RetryDelay backoff.
	ActionRetry Action = iota
	// ActionFail finalizes the entry as permanently failed.
	ActionFail
)

// Decide applies the retry policy after a failed attempt. attempts is the
// count including the attempt that just failed.
func Decide(attempts int) Action {
	if attempts >= MaxAttempts {
		return ActionFail
	}
	return ActionRetry
}

// NextAttemptAt returns when a retried entry becomes due again.
func NextAttemptAt(now time.Time) time.Time {
	return now.Add(RetryDelay)
}

// Exhausted reports whether an entry has no delivery attempts left. Entries
// claimed in this state (a crash between increment and status flip) are
// finalized to failed without another delivery attempt.
func Exhausted(attemptCount, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = MaxAttempts
	}
	return attemptCount >= maxAttempts
}
