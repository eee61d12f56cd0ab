package domain

import (
	"time"
)

// SMTPConfig is one SMTP identity to send through. Read-only from the queue
// core's perspective.
type SMTPConfig struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	FromEmail string    `json:"from_email"`
	FromName  *string   `json:"from_name,omitempty"`
	UseTLS    bool      `json:"use_tls"`
	CreatedAt time.Time `json:"created_at"`
}

type UpsertSMTPConfigRequest struct {
	Name      string  `json:"name"`
	Host      string  `json:"host"`
	Port      int     `json:"port"`
	Username  string  `json:"username"`
	Password  string  `json:"password"`
	FromEmail string  `json:"from_email"`
	FromName  *string `json:"from_name,omitempty"`
	UseTLS    bool    `json:"use_tls"`
}
