package domain

import (
	"time"
)

// Dispatch statuses. A dispatch never moves to "failed" because of recipient
// failures; "failed" is reserved for an enqueue that could not be committed.
const (
	DispatchDraft     = "draft"
	DispatchSending   = "sending"
	DispatchCompleted = "completed"
	DispatchFailed    = "failed"
)

// Dispatch is one email campaign sent from one SMTP identity to many recipients.
type Dispatch struct {
	ID              string     `json:"id"`
	SMTPConfigID    *string    `json:"smtp_config_id,omitempty"`
	Subject         string     `json:"subject"`
	Body            string     `json:"body"`
	FromEmail       string     `json:"from_email"`
	FromName        *string    `json:"from_name,omitempty"`
	ReplyTo         *string    `json:"reply_to,omitempty"`
	Status          string     `json:"status"`
	TotalRecipients int        `json:"total_recipients"`
	SentCount       int        `json:"sent_count"`
	FailedCount     int        `json:"failed_count"`
	OpenedCount     int        `json:"opened_count"`
	ClickedCount    int        `json:"clicked_count"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type CreateDispatchRequest struct {
	SMTPConfigID string  `json:"smtp_config_id"`
	Subject      string  `json:"subject"`
	Body         string  `json:"body"`
	FromEmail    string  `json:"from_email"`
	FromName     *string `json:"from_name,omitempty"`
	ReplyTo      *string `json:"reply_to,omitempty"`
}
