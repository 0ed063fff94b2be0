package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"

	"github.com/mkravets/chimera/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "chimera.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return repo
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	u := &domain.User{
		UserID:       "u-123",
		Email:        "ada@example.com",
		PasswordHash: "$2a$10$fakehash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	got, err := repo.GetUser(ctx, "u-123")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Email != u.Email || got.PasswordHash != u.PasswordHash {
		t.Errorf("GetUser = %+v, want %+v", got, u)
	}

	byEmail, err := repo.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail.UserID != "u-123" {
		t.Errorf("GetUserByEmail UserID = %q, want u-123", byEmail.UserID)
	}
}

func TestCreateUserDuplicateEmailConflicts(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	u := &domain.User{UserID: "u-1", Email: "dup@example.com", PasswordHash: "h", CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateUser(ctx, u); err != nil {
		t.Fatalf("first CreateUser failed: %v", err)
	}

	dup := &domain.User{UserID: "u-2", Email: "dup@example.com", PasswordHash: "h2", CreatedAt: now, UpdatedAt: now}
	err := repo.CreateUser(ctx, dup)
	if !errdefs.IsConflict(err) {
		t.Errorf("duplicate email error = %v, want conflict", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	if _, err := repo.GetUser(context.Background(), "ghost"); !errdefs.IsNotFound(err) {
		t.Errorf("GetUser(ghost) = %v, want not-found", err)
	}
	if _, err := repo.GetUserByEmail(context.Background(), "ghost@example.com"); !errdefs.IsNotFound(err) {
		t.Errorf("GetUserByEmail(ghost) = %v, want not-found", err)
	}
}

func TestUpdateUserPersona(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	u := &domain.User{UserID: "u-1", Email: "p@example.com", PasswordHash: "h", CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := repo.UpdateUserPersona(ctx, "u-1", domain.PersonaArchitect); err != nil {
		t.Fatalf("UpdateUserPersona failed: %v", err)
	}
	got, _ := repo.GetUser(ctx, "u-1")
	if got.PreferredPersona != domain.PersonaArchitect {
		t.Errorf("PreferredPersona = %q, want %q", got.PreferredPersona, domain.PersonaArchitect)
	}

	if err := repo.UpdateUserPersona(ctx, "nobody", domain.PersonaManager); !errdefs.IsNotFound(err) {
		t.Errorf("UpdateUserPersona(nobody) = %v, want not-found", err)
	}
}

func TestProfileRoundTripPreservesCountOrder(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	p := domain.PreferenceProfile{
		UserID:       "u-1",
		TotalQueries: 3,
		PersonaCounts: domain.CountList{
			{Name: domain.PersonaManager, N: 2},
			{Name: domain.PersonaScientist, N: 1},
		},
		TopicCounts: domain.CountList{
			{Name: "microgravity", N: 2},
			{Name: "bone density", N: 1},
		},
		PreferredPersona: domain.PersonaManager,
		LastActiveAt:     now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := repo.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}

	got, err := repo.GetProfile(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got.TotalQueries != 3 || got.PreferredPersona != domain.PersonaManager {
		t.Errorf("GetProfile = %+v", got)
	}
	// Insertion order must survive the trip; it drives the tie-break.
	if got.PersonaCounts[0].Name != domain.PersonaManager {
		t.Errorf("first persona = %q, want %q", got.PersonaCounts[0].Name, domain.PersonaManager)
	}
	if got.TopicCounts[0].Name != "microgravity" || got.TopicCounts[0].N != 2 {
		t.Errorf("topic counts = %+v", got.TopicCounts)
	}

	// Second upsert overwrites.
	p.TotalQueries = 4
	p.PersonaCounts = p.PersonaCounts.Bump(domain.PersonaManager)
	if err := repo.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("second UpsertProfile failed: %v", err)
	}
	got, _ = repo.GetProfile(ctx, "u-1")
	if got.TotalQueries != 4 || got.PersonaCounts.Get(domain.PersonaManager) != 3 {
		t.Errorf("after overwrite: %+v", got)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	if _, err := repo.GetProfile(context.Background(), "ghost"); !errdefs.IsNotFound(err) {
		t.Errorf("GetProfile(ghost) = %v, want not-found", err)
	}
}

func TestRecentMessagesChronological(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	for i := 0; i < 8; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msg := domain.Message{Role: role, Text: string(rune('a' + i)), OccurredAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.AppendMessage(ctx, "u-1", msg); err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
	}

	msgs, err := repo.RecentMessages(ctx, "u-1", 5)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	// Last five, oldest first: d e f g h.
	want := []string{"d", "e", "f", "g", "h"}
	for i, m := range msgs {
		if m.Text != want[i] {
			t.Errorf("msgs[%d].Text = %q, want %q", i, m.Text, want[i])
		}
	}

	other, err := repo.RecentMessages(ctx, "u-2", 5)
	if err != nil {
		t.Fatalf("RecentMessages(u-2) failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unknown user has %d messages, want 0", len(other))
	}
}

func TestRecentMessagesSameSecondKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	at := time.Now().Truncate(time.Second)

	for _, text := range []string{"first", "second", "third"} {
		msg := domain.Message{Role: domain.RoleUser, Text: text, OccurredAt: at}
		if err := repo.AppendMessage(ctx, "u-1", msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	msgs, err := repo.RecentMessages(ctx, "u-1", 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	want := []string{"first", "second", "third"}
	for i, m := range msgs {
		if m.Text != want[i] {
			t.Errorf("msgs[%d].Text = %q, want %q", i, m.Text, want[i])
		}
	}
}

func TestQueryRecordsAndCounts(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	u := &domain.User{UserID: "u-1", Email: "c@example.com", PasswordHash: "h", CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		rec := domain.QueryRecord{
			UserID:     "u-1",
			Question:   "what does microgravity do to bone density?",
			Persona:    domain.PersonaScientist,
			Topics:     []string{"microgravity", "bone density"},
			OccurredAt: now,
		}
		if err := repo.InsertQueryRecord(ctx, rec); err != nil {
			t.Fatalf("InsertQueryRecord failed: %v", err)
		}
	}

	users, err := repo.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers failed: %v", err)
	}
	if users != 1 {
		t.Errorf("CountUsers = %d, want 1", users)
	}

	queries, err := repo.CountQueryRecords(ctx)
	if err != nil {
		t.Fatalf("CountQueryRecords failed: %v", err)
	}
	if queries != 3 {
		t.Errorf("CountQueryRecords = %d, want 3", queries)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
