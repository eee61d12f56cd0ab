package domain

import (
	"strings"
	"time"
)

// Recipient statuses mirror the terminal state of the recipient's queue entry.
const (
	RecipientPending = "pending"
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
)

// Recipient is one addressee of a dispatch. The opened/clicked fields are
// written by the tracking side, never by the queue core.
type Recipient struct {
	ID           string     `json:"id"`
	DispatchID   string     `json:"dispatch_id"`
	Title        *string    `json:"title,omitempty"`
	FirstName    string     `json:"fname"`
	LastName     string     `json:"lname"`
	Email        string     `json:"email"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Opened       bool       `json:"opened"`
	Clicked      bool       `json:"clicked"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
	ClickedAt    *time.Time `json:"clicked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DisplayName is the name used in the RCPT header, e.g. "Jane Doe".
func (r Recipient) DisplayName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// RecipientInput is the shape accepted when enqueuing a dispatch.
type RecipientInput struct {
	Title     *string `json:"title,omitempty"`
	FirstName string  `json:"fname"`
	LastName  string  `json:"lname"`
	Email     string  `json:"email"`
}
