package domain

import (
	"time"
)

// Tester is a saved test recipient that can be picked when starting a dispatch.
type Tester struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title,omitempty"`
	FirstName string    `json:"fname"`
	LastName  string    `json:"lname"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type UpsertTesterRequest struct {
	Title     *string `json:"title,omitempty"`
	FirstName string  `json:"fname"`
	LastName  string  `json:"lname"`
	Email     string  `json:"email"`
}
