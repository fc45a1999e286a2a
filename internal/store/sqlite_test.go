package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/reflow/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "reflow.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return repo
}

func TestSession_UpsertGetTouch(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	created := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := repo.UpsertSession(ctx, &domain.Session{
		SessionID:  "u1/tab1",
		CreatedAt:  created,
		LastSeenAt: created,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.GetSession(ctx, "u1/tab1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.SessionID != "u1/tab1" {
		t.Fatalf("got = %+v, want session u1/tab1", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, created)
	}

	// Touch moves last_seen_at forward, created_at stays.
	seen := time.Now().Truncate(time.Second)
	if err := repo.TouchSession(ctx, "u1/tab1", seen); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err = repo.GetSession(ctx, "u1/tab1")
	if err != nil {
		t.Fatalf("get after touch: %v", err)
	}
	if !got.LastSeenAt.Equal(seen) {
		t.Errorf("last_seen_at = %v, want %v", got.LastSeenAt, seen)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at changed on touch: %v", got.CreatedAt)
	}
}

func TestGetSession_UnknownReturnsNil(t *testing.T) {
	repo := newTestStore(t)
	got, err := repo.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestGetExpiredSessions(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	stale := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()
	for _, s := range []*domain.Session{
		{SessionID: "stale/tab", CreatedAt: stale, LastSeenAt: stale},
		{SessionID: "fresh/tab", CreatedAt: fresh, LastSeenAt: fresh},
	} {
		if err := repo.UpsertSession(ctx, s); err != nil {
			t.Fatalf("upsert %s: %v", s.SessionID, err)
		}
	}

	expired, err := repo.GetExpiredSessions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(expired) != 1 || expired[0].SessionID != "stale/tab" {
		t.Fatalf("expired = %+v, want only stale/tab", expired)
	}
}

func TestState_ReplaceLoadRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	entries := []domain.StateEntry{
		{Key: "counter", Value: float64(3), Version: 3, UpdatedAt: now},
		{Key: "name", Value: "ada", Version: 1, UpdatedAt: now},
		{Key: "opts", Value: map[string]any{"dark": true}, Version: 2, UpdatedAt: now},
	}
	if err := repo.ReplaceState(ctx, "u1/tab1", entries); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := repo.LoadState(ctx, "u1/tab1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	byKey := make(map[string]domain.StateEntry, len(got))
	for _, e := range got {
		byKey[e.Key] = e
	}
	for _, want := range entries {
		g, ok := byKey[want.Key]
		if !ok {
			t.Fatalf("key %q missing after round trip", want.Key)
		}
		if diff := cmp.Diff(want.Value, g.Value); diff != "" {
			t.Errorf("value mismatch for %q (-want +got):\n%s", want.Key, diff)
		}
		if g.Version != want.Version {
			t.Errorf("version for %q = %d, want %d", want.Key, g.Version, want.Version)
		}
	}

	// Replace is wholesale: the next snapshot drops vanished keys.
	if err := repo.ReplaceState(ctx, "u1/tab1", entries[:1]); err != nil {
		t.Fatalf("replace subset: %v", err)
	}
	got, err = repo.LoadState(ctx, "u1/tab1")
	if err != nil {
		t.Fatalf("load subset: %v", err)
	}
	if len(got) != 1 || got[0].Key != "counter" {
		t.Fatalf("got = %+v, want only counter", got)
	}
}

func TestState_SkipsNonSerializableEntry(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	entries := []domain.StateEntry{
		{Key: "good", Value: "kept", Version: 1, UpdatedAt: time.Now()},
		{Key: "bad", Value: func() {}, Version: 1, UpdatedAt: time.Now()},
	}
	if err := repo.ReplaceState(ctx, "u1/tab1", entries); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := repo.LoadState(ctx, "u1/tab1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Key != "good" {
		t.Fatalf("got = %+v, want only the serializable entry", got)
	}
}

func TestWidgetValues_ReplaceLoadRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	values := map[string]any{
		"age":   float64(40),
		"name":  "ada",
		"theme": "dark",
	}
	if err := repo.ReplaceWidgetValues(ctx, "u1/tab1", values); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := repo.LoadWidgetValues(ctx, "u1/tab1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(values, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	// Sessions do not share widget namespaces.
	other, err := repo.LoadWidgetValues(ctx, "u2/tab1")
	if err != nil {
		t.Fatalf("load other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other session sees %d values, want 0", len(other))
	}
}

func TestDeleteSession_RemovesAllRows(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	if err := repo.UpsertSession(ctx, &domain.Session{SessionID: "u1/tab1", CreatedAt: now, LastSeenAt: now}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.ReplaceState(ctx, "u1/tab1", []domain.StateEntry{{Key: "k", Value: 1.0, Version: 1, UpdatedAt: now}}); err != nil {
		t.Fatalf("state: %v", err)
	}
	if err := repo.ReplaceWidgetValues(ctx, "u1/tab1", map[string]any{"age": 25.0}); err != nil {
		t.Fatalf("widgets: %v", err)
	}

	if err := repo.DeleteSession(ctx, "u1/tab1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if rec, _ := repo.GetSession(ctx, "u1/tab1"); rec != nil {
		t.Error("session row survived delete")
	}
	if entries, _ := repo.LoadState(ctx, "u1/tab1"); len(entries) != 0 {
		t.Error("state rows survived delete")
	}
	if values, _ := repo.LoadWidgetValues(ctx, "u1/tab1"); len(values) != 0 {
		t.Error("widget rows survived delete")
	}
}
