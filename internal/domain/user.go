// Package domain contains core domain types for the Chimera application.
package domain

import (
	"time"
)

// User represents a registered account. Identity lifecycle (registration,
// credential checks) is owned by the auth package; the rest of the system
// only ever sees the opaque UserID.
type User struct {
	UserID           string    `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	PreferredPersona string    `json:"preferred_persona"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsAnonymous returns true for the zero identity used on unauthenticated requests.
func (u *User) IsAnonymous() bool {
	return u.UserID == ""
}
