// Package prefs implements the concurrent-safe preference aggregator that
// learns per-user personalization state as a side effect of queries.
package prefs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/mkravets/chimera/internal/domain"
)

// Repository is the persistence surface profiles are written through to.
// GetProfile returns errdefs.ErrNotFound for users that were never recorded.
type Repository interface {
	GetProfile(ctx context.Context, userID string) (domain.PreferenceProfile, error)
	UpsertProfile(ctx context.Context, profile domain.PreferenceProfile) error

	// UpdateUserPersona mirrors the learned preferred persona onto the
	// user's account row so account lookups see it without a profile read.
	UpdateUserPersona(ctx context.Context, userID string, persona string) error
}

// entry holds one user's live profile. Its mutex is the per-user critical
// section: RecordQuery calls for the same user serialize, different users
// never contend.
type entry struct {
	mu      sync.Mutex
	loaded  bool
	profile domain.PreferenceProfile
}

// Aggregator applies race-free incremental updates to per-user learned
// statistics and serves consistent snapshots of them.
type Aggregator struct {
	repo Repository

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an aggregator. A non-nil repo is loaded from on first touch of
// each user and written through on every update; nil keeps state in memory
// only.
func New(repo Repository) *Aggregator {
	return &Aggregator{
		repo:    repo,
		entries: make(map[string]*entry),
	}
}

// entryFor returns the user's entry, creating it lazily.
func (a *Aggregator) entryFor(userID string) *entry {
	a.mu.RLock()
	e, ok := a.entries[userID]
	a.mu.RUnlock()
	if ok {
		return e
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[userID]; ok {
		return e
	}
	e = &entry{}
	a.entries[userID] = e
	return e
}

// ensureLoaded pulls the persisted profile into memory once. Callers hold the
// entry mutex. Load failures other than not-found leave loaded unset so a
// later touch retries; the first mutation pins the in-memory profile as
// authoritative either way.
func (a *Aggregator) ensureLoaded(ctx context.Context, userID string, e *entry) {
	if e.loaded || a.repo == nil {
		return
	}

	p, err := a.repo.GetProfile(ctx, userID)
	switch {
	case err == nil:
		e.profile = p
		e.loaded = true
	case errdefs.IsNotFound(err):
		e.loaded = true
	default:
		slog.Warn("Preference profile load failed, serving in-memory state", "user_id", userID, "error", err)
	}
}

// RecordQuery applies one query's personalization update under the user's
// critical section: totalQueries, persona and topic counters, lastActiveAt,
// and the preferred-persona recomputation (ties retain the previous holder,
// otherwise the first-recorded persona among the leaders wins). Duplicate
// topics within one call count once. The in-memory update always lands; a
// write-through failure is returned for the caller to surface as degraded
// mode.
func (a *Aggregator) RecordQuery(ctx context.Context, userID, persona string, topics []string) error {
	if userID == "" {
		return fmt.Errorf("record query: user id required: %w", errdefs.ErrInvalidArgument)
	}
	if persona == "" {
		persona = domain.DefaultPersona
	}

	e := a.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	a.ensureLoaded(ctx, userID, e)
	e.loaded = true

	now := time.Now().UTC()
	p := &e.profile
	if p.UserID == "" {
		p.UserID = userID
		p.CreatedAt = now
	}

	p.TotalQueries++
	p.PersonaCounts = p.PersonaCounts.Bump(persona)
	seen := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		p.TopicCounts = p.TopicCounts.Bump(topic)
	}
	previous := p.PreferredPersona
	p.PreferredPersona = p.PersonaCounts.Leader(p.PreferredPersona)
	p.LastActiveAt = now
	p.UpdatedAt = now

	if a.repo == nil {
		return nil
	}
	if err := a.repo.UpsertProfile(ctx, p.Clone()); err != nil {
		return fmt.Errorf("persist preference profile: %w", err)
	}
	if p.PreferredPersona != previous {
		if err := a.repo.UpdateUserPersona(ctx, userID, p.PreferredPersona); err != nil {
			slog.Warn("Account persona write-through failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

// GetProfile returns a consistent snapshot of the user's profile. A user that
// was never recorded yields errdefs.ErrNotFound; callers render that as the
// empty default.
func (a *Aggregator) GetProfile(ctx context.Context, userID string) (domain.PreferenceProfile, error) {
	if userID == "" {
		return domain.PreferenceProfile{}, fmt.Errorf("preference profile: user id required: %w", errdefs.ErrNotFound)
	}

	e := a.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	a.ensureLoaded(ctx, userID, e)
	if e.profile.TotalQueries == 0 && len(e.profile.PersonaCounts) == 0 {
		return domain.PreferenceProfile{}, fmt.Errorf("preference profile %q: %w", userID, errdefs.ErrNotFound)
	}
	return e.profile.Clone(), nil
}
