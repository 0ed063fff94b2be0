// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/mkravets/chimera/internal/domain"
)

// Repository defines the interface for persisting users, preference
// profiles, conversation history, and the query audit trail.
type Repository interface {
	// CreateUser inserts a new user record. A duplicate email fails with
	// a conflict error.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by ID, failing with a not-found error when
	// no such user exists.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByEmail retrieves a user by email, failing with a not-found
	// error when no such user exists.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdateUserPersona sets the user's default persona selection.
	UpdateUserPersona(ctx context.Context, userID string, persona string) error

	// GetProfile retrieves a preference profile, failing with a not-found
	// error when the user has no recorded queries yet.
	GetProfile(ctx context.Context, userID string) (domain.PreferenceProfile, error)

	// UpsertProfile creates or overwrites a preference profile.
	UpsertProfile(ctx context.Context, profile domain.PreferenceProfile) error

	// AppendMessage appends one conversation message to a user's history.
	AppendMessage(ctx context.Context, userID string, msg domain.Message) error

	// RecentMessages returns up to limit of the user's most recent
	// messages in chronological order, oldest first.
	RecentMessages(ctx context.Context, userID string, limit int) ([]domain.Message, error)

	// InsertQueryRecord appends one row to the query audit trail.
	InsertQueryRecord(ctx context.Context, rec domain.QueryRecord) error

	// CountUsers returns the number of registered users.
	CountUsers(ctx context.Context) (int64, error)

	// CountQueryRecords returns the number of audited queries.
	CountQueryRecords(ctx context.Context) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
