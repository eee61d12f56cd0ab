package domain

import (
	"time"
)

// Queue entry statuses. "in_progress" marks an entry claimed by a worker;
// "sent" and "failed" are terminal and never leave that state.
const (
	EntryPending    = "pending"
	EntryInProgress = "in_progress"
	EntrySent       = "sent"
	EntryFailed     = "failed"
)

// QueueEntry is the unit of retryable work: deliver one dispatch to one
// recipient. Entries are never deleted; terminal rows double as the delivery
// audit log.
type QueueEntry struct {
	ID           string     `json:"id"`
	DispatchID   string     `json:"dispatch_id"`
	RecipientID  string     `json:"recipient_id"`
	Status       string     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	NextAttempt  *time.Time `json:"next_attempt,omitempty"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	ClaimedBy    *string    `json:"claimed_by,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SendContext is everything needed for one delivery attempt: the rendered
// dispatch, the addressee and the SMTP identity to send through. SMTP is nil
// when the dispatch's config row no longer exists.
type SendContext struct {
	Subject   string
	Body      string
	FromEmail string
	FromName  *string
	ReplyTo   *string
	ToEmail   string
	ToName    string
	SMTP      *SMTPConfig
}
