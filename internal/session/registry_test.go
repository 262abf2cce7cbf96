package session_test

import (
	"context"
	"testing"
	"time"

	"session-service/internal/model"
	"session-service/internal/session"
)

func TestRegisterOrTouchCreatesOnce(t *testing.T) {
	store := newFakeStore()
	registry := session.NewRegistry(store, newFakeFeed())
	ctx := context.Background()

	created, revoked, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta())
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	if !created || revoked {
		t.Fatalf("first register: created=%v revoked=%v, want created and not revoked", created, revoked)
	}

	created, revoked, err = registry.RegisterOrTouch(ctx, "u1", "k1", testMeta())
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if created || revoked {
		t.Fatalf("second register: created=%v revoked=%v, want plain touch", created, revoked)
	}
}

func TestRegisterOrTouchNeverResetsRevokedAt(t *testing.T) {
	store := newFakeStore()
	registry := session.NewRegistry(store, newFakeFeed())
	ctx := context.Background()

	if _, _, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Revoke(ctx, "u1", "k1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revokedAt := store.row("u1", "k1").RevokedAt
	if revokedAt == nil {
		t.Fatalf("revoke did not set revoked_at")
	}

	created, revoked, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta())
	if err != nil {
		t.Fatalf("register after revoke: %v", err)
	}
	if created || !revoked {
		t.Fatalf("register after revoke: created=%v revoked=%v, want revoked", created, revoked)
	}

	row := store.row("u1", "k1")
	if row.RevokedAt == nil || !row.RevokedAt.Equal(*revokedAt) {
		t.Fatalf("revoked_at changed after re-register: got %v, want %v", row.RevokedAt, revokedAt)
	}
}

func TestRegisterOrTouchUpdatesLastSeen(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	registry := session.NewRegistry(store, newFakeFeed(),
		session.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, _, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta()); err != nil {
		t.Fatalf("register: %v", err)
	}

	now = now.Add(30 * time.Second)
	if _, _, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta()); err != nil {
		t.Fatalf("touch: %v", err)
	}

	row := store.row("u1", "k1")
	if !row.LastSeenAt.Equal(now) {
		t.Fatalf("last_seen_at = %v, want %v", row.LastSeenAt, now)
	}
	if row.CreatedAt.Equal(now) {
		t.Fatalf("created_at was overwritten by touch")
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	store := newFakeStore()
	feed := newFakeFeed()
	registry := session.NewRegistry(store, feed)
	ctx := context.Background()

	if _, _, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta()); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := registry.Revoke(ctx, "u1", "k1"); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := registry.Revoke(ctx, "u1", "k1"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if err := registry.Revoke(ctx, "u1", "missing"); err != nil {
		t.Fatalf("revoke of missing session: %v", err)
	}

	if got := feed.publishedCount(); got != 1 {
		t.Fatalf("published %d revocation events, want exactly 1", got)
	}
}

func TestRevokeAllExceptProtectsCaller(t *testing.T) {
	store := newFakeStore()
	feed := newFakeFeed()
	registry := session.NewRegistry(store, feed)
	ctx := context.Background()

	for _, key := range []string{"k1", "k2", "k3"} {
		if _, _, err := registry.RegisterOrTouch(ctx, "u1", key, testMeta()); err != nil {
			t.Fatalf("register %s: %v", key, err)
		}
	}
	// k3 is already gone; it must not be revoked (or published) again.
	if err := registry.Revoke(ctx, "u1", "k3"); err != nil {
		t.Fatalf("revoke k3: %v", err)
	}

	revoked, err := registry.RevokeAllExcept(ctx, "u1", "k2")
	if err != nil {
		t.Fatalf("revoke all except: %v", err)
	}
	if len(revoked) != 1 || revoked[0] != "k1" {
		t.Fatalf("revoked %v, want [k1]", revoked)
	}

	if store.row("u1", "k2").RevokedAt != nil {
		t.Fatalf("caller's own session was revoked")
	}
	if store.row("u1", "k1").RevokedAt == nil {
		t.Fatalf("k1 was not revoked")
	}
	if got := feed.publishedCount(); got != 2 {
		t.Fatalf("published %d events, want 2 (k3 once, k1 once)", got)
	}
}

// insertRaceStore models a concurrent heartbeat that creates the row
// between this caller's failed touch and failed insert: the first touch
// misses, the first insert loses IF NOT EXISTS, and the row is live.
type insertRaceStore struct {
	*fakeStore
	raced bool
}

func (s *insertRaceStore) Touch(ctx context.Context, sess *model.DeviceSession) (bool, error) {
	if !s.raced {
		return false, nil
	}
	return s.fakeStore.Touch(ctx, sess)
}

func (s *insertRaceStore) Insert(ctx context.Context, sess *model.DeviceSession) (bool, error) {
	if !s.raced {
		s.raced = true
		if _, err := s.fakeStore.Insert(ctx, sess); err != nil {
			return false, err
		}
		return false, nil
	}
	return s.fakeStore.Insert(ctx, sess)
}

func TestRegisterOrTouchSurvivesInsertRace(t *testing.T) {
	store := &insertRaceStore{fakeStore: newFakeStore()}
	registry := session.NewRegistry(store, newFakeFeed())

	created, revoked, err := registry.RegisterOrTouch(context.Background(), "u1", "k1", testMeta())
	if err != nil {
		t.Fatalf("register during insert race: %v", err)
	}
	if revoked {
		t.Fatalf("live never-revoked session reported revoked after losing the insert race")
	}
	if created {
		t.Fatalf("lost insert race reported created=true")
	}

	row := store.row("u1", "k1")
	if row == nil || row.RevokedAt != nil {
		t.Fatalf("row missing or revoked after race: %+v", row)
	}
}

func TestListSessionsPassesThroughStoreErrors(t *testing.T) {
	store := newFakeStore()
	registry := session.NewRegistry(store, newFakeFeed())

	store.failNext = context.DeadlineExceeded
	if _, err := registry.ListSessions(context.Background(), "u1"); err == nil {
		t.Fatalf("expected error from store, got nil")
	}
}
