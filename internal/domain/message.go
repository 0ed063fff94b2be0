package domain

import (
	"time"
)

// Message roles within a conversation window.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a user's conversation window.
type Message struct {
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
}
