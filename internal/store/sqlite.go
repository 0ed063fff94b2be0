package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	_ "modernc.org/sqlite"

	"github.com/mkravets/chimera/internal/domain"
	"github.com/mkravets/chimera/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		preferred_persona TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preference_profiles (
		user_id TEXT PRIMARY KEY,
		total_queries INTEGER NOT NULL DEFAULT 0,
		persona_counts TEXT NOT NULL DEFAULT '[]',
		topic_counts TEXT NOT NULL DEFAULT '[]',
		preferred_persona TEXT,
		last_active_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		occurred_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation_messages(user_id, id);

	CREATE TABLE IF NOT EXISTS query_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		question TEXT NOT NULL,
		persona TEXT NOT NULL,
		topics TEXT NOT NULL DEFAULT '[]',
		occurred_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_records_user ON query_records(user_id, occurred_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// execRetry runs fn, retrying with exponential backoff when SQLite reports
// a transient locking conflict. Non-transient errors fail immediately.
func execRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
			slog.Debug("sqlite busy, retrying", "attempt", i+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxRetries, err)
}

// CreateUser inserts a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, email, password_hash, preferred_persona, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	var persona interface{}
	if user.PreferredPersona != "" {
		persona = user.PreferredPersona
	}

	err := execRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Email, user.PasswordHash, persona,
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		if shared.IsSQLiteConstraintError(err) {
			return fmt.Errorf("email %q already registered: %w", user.Email, errdefs.ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, email, password_hash, preferred_persona, created_at, updated_at
		FROM users WHERE user_id = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, userID), userID)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT user_id, email, password_hash, preferred_persona, created_at, updated_at
		FROM users WHERE email = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email), email)
}

func (s *SQLiteStore) scanUser(row *sql.Row, key string) (*domain.User, error) {
	var user domain.User
	var persona sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&user.UserID, &user.Email, &user.PasswordHash,
		&persona, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", key, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.PreferredPersona = persona.String
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpdateUserPersona sets the user's default persona selection.
func (s *SQLiteStore) UpdateUserPersona(ctx context.Context, userID string, persona string) error {
	query := `UPDATE users SET preferred_persona = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, persona, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update persona: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %q: %w", userID, errdefs.ErrNotFound)
	}
	return nil
}

// GetProfile retrieves a preference profile.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (domain.PreferenceProfile, error) {
	query := `
		SELECT user_id, total_queries, persona_counts, topic_counts,
		       preferred_persona, last_active_at, created_at, updated_at
		FROM preference_profiles WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var p domain.PreferenceProfile
	var personaJSON, topicJSON string
	var preferred sql.NullString
	var lastActive, createdAt, updatedAt int64

	err := row.Scan(
		&p.UserID, &p.TotalQueries, &personaJSON, &topicJSON,
		&preferred, &lastActive, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PreferenceProfile{}, fmt.Errorf("profile %q: %w", userID, errdefs.ErrNotFound)
	}
	if err != nil {
		return domain.PreferenceProfile{}, fmt.Errorf("scan profile row: %w", err)
	}

	if err := json.Unmarshal([]byte(personaJSON), &p.PersonaCounts); err != nil {
		return domain.PreferenceProfile{}, fmt.Errorf("decode persona counts: %w", err)
	}
	if err := json.Unmarshal([]byte(topicJSON), &p.TopicCounts); err != nil {
		return domain.PreferenceProfile{}, fmt.Errorf("decode topic counts: %w", err)
	}

	p.PreferredPersona = preferred.String
	p.LastActiveAt = time.Unix(lastActive, 0)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)

	return p, nil
}

// UpsertProfile creates or overwrites a preference profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile domain.PreferenceProfile) error {
	personaJSON, err := json.Marshal(profile.PersonaCounts)
	if err != nil {
		return fmt.Errorf("encode persona counts: %w", err)
	}
	topicJSON, err := json.Marshal(profile.TopicCounts)
	if err != nil {
		return fmt.Errorf("encode topic counts: %w", err)
	}

	query := `
	INSERT INTO preference_profiles (
		user_id, total_queries, persona_counts, topic_counts,
		preferred_persona, last_active_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		total_queries = excluded.total_queries,
		persona_counts = excluded.persona_counts,
		topic_counts = excluded.topic_counts,
		preferred_persona = excluded.preferred_persona,
		last_active_at = excluded.last_active_at,
		updated_at = excluded.updated_at`

	var preferred interface{}
	if profile.PreferredPersona != "" {
		preferred = profile.PreferredPersona
	}

	err = execRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			profile.UserID, profile.TotalQueries, string(personaJSON), string(topicJSON),
			preferred, profile.LastActiveAt.Unix(),
			profile.CreatedAt.Unix(), profile.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// AppendMessage appends one conversation message to a user's history.
func (s *SQLiteStore) AppendMessage(ctx context.Context, userID string, msg domain.Message) error {
	query := `
	INSERT INTO conversation_messages (user_id, role, text, occurred_at)
	VALUES (?, ?, ?, ?)`

	err := execRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, userID, msg.Role, msg.Text, msg.OccurredAt.Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit of the user's most recent messages in
// chronological order, oldest first. Rows are fetched newest-first on the
// autoincrement id, which preserves insertion order even within one second,
// then reversed.
func (s *SQLiteStore) RecentMessages(ctx context.Context, userID string, limit int) ([]domain.Message, error) {
	query := `
		SELECT role, text, occurred_at
		FROM conversation_messages WHERE user_id = ?
		ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var occurredAt int64
		if err := rows.Scan(&m.Role, &m.Text, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.OccurredAt = time.Unix(occurredAt, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// InsertQueryRecord appends one row to the query audit trail.
func (s *SQLiteStore) InsertQueryRecord(ctx context.Context, rec domain.QueryRecord) error {
	topicsJSON, err := json.Marshal(rec.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}

	query := `
	INSERT INTO query_records (user_id, question, persona, topics, occurred_at)
	VALUES (?, ?, ?, ?, ?)`

	err = execRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.UserID, rec.Question, rec.Persona, string(topicsJSON), rec.OccurredAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert query record: %w", err)
	}
	return nil
}

// CountUsers returns the number of registered users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// CountQueryRecords returns the number of audited queries.
func (s *SQLiteStore) CountQueryRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query records: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
