// Package conversation maintains the per-user bounded message log used as
// chat context.
package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mkravets/chimera/internal/domain"
)

// DefaultWindow is the number of messages read back for context when the
// caller does not say otherwise.
const DefaultWindow = 5

// backfillLimit caps how much history is loaded from the repository on first
// touch; far more than any context window ever reads.
const backfillLimit = 64

// Repository is the persistence surface the store writes through to.
// Implementations must return recent messages in chronological order,
// oldest first.
type Repository interface {
	AppendMessage(ctx context.Context, userID string, msg domain.Message) error
	RecentMessages(ctx context.Context, userID string, n int) ([]domain.Message, error)
}

// window holds one user's in-memory history. Its mutex is the per-user append
// lock: appends for the same user serialize, different users never contend.
type window struct {
	mu       sync.Mutex
	loaded   bool
	messages []domain.Message
}

// Store is a thread-safe, per-user ordered message log. Windows are created
// lazily on first touch, backfilled from the repository when one is attached,
// and trimmed to maxRetained when a cap is configured (0 keeps everything).
type Store struct {
	repo        Repository
	maxRetained int

	mu      sync.RWMutex
	windows map[string]*window
}

// New creates a store. repo may be nil for a purely in-memory log;
// maxRetained 0 retains the full history.
func New(repo Repository, maxRetained int) *Store {
	return &Store{
		repo:        repo,
		maxRetained: maxRetained,
		windows:     make(map[string]*window),
	}
}

// entry returns the user's window, creating it lazily.
func (s *Store) entry(userID string) *window {
	s.mu.RLock()
	w, ok := s.windows[userID]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[userID]; ok {
		return w
	}
	w = &window{}
	s.windows[userID] = w
	return w
}

// ensureLoaded backfills the window from the repository once. Callers hold
// the window mutex. A failed backfill starts the window empty rather than
// failing the request.
func (s *Store) ensureLoaded(ctx context.Context, userID string, w *window) {
	if w.loaded {
		return
	}
	w.loaded = true
	if s.repo == nil {
		return
	}

	limit := s.maxRetained
	if limit <= 0 || limit > backfillLimit {
		limit = backfillLimit
	}
	msgs, err := s.repo.RecentMessages(ctx, userID, limit)
	if err != nil {
		slog.Warn("Conversation backfill failed, starting with empty window", "user_id", userID, "error", err)
		return
	}
	w.messages = msgs
}

// Append atomically adds msg to the user's history. The in-memory window is
// always updated; a write-through repository failure is returned so callers
// can surface degraded mode, but it does not undo the append.
func (s *Store) Append(ctx context.Context, userID string, msg domain.Message) error {
	w := s.entry(userID)
	w.mu.Lock()
	defer w.mu.Unlock()

	s.ensureLoaded(ctx, userID, w)
	w.messages = append(w.messages, msg)

	if s.maxRetained > 0 && len(w.messages) > s.maxRetained {
		trimmed := make([]domain.Message, s.maxRetained)
		copy(trimmed, w.messages[len(w.messages)-s.maxRetained:])
		w.messages = trimmed
	}

	if s.repo == nil {
		return nil
	}
	return s.repo.AppendMessage(ctx, userID, msg)
}

// RecentWindow returns the user's last n messages in chronological order,
// oldest first. Fewer than n exist → all of them; an unknown user gets an
// empty window, never an error. n <= 0 uses DefaultWindow.
func (s *Store) RecentWindow(ctx context.Context, userID string, n int) []domain.Message {
	if n <= 0 {
		n = DefaultWindow
	}

	w := s.entry(userID)
	w.mu.Lock()
	defer w.mu.Unlock()

	s.ensureLoaded(ctx, userID, w)

	start := 0
	if len(w.messages) > n {
		start = len(w.messages) - n
	}
	out := make([]domain.Message, len(w.messages)-start)
	copy(out, w.messages[start:])
	return out
}

// Len returns the current in-memory history length for a user. Used by
// health/stats reporting and tests; 0 for unknown users.
func (s *Store) Len(userID string) int {
	s.mu.RLock()
	w, ok := s.windows[userID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}
