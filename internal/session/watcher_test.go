package session_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"session-service/internal/session"
)

type firedRecorder struct {
	count  atomic.Int32
	source atomic.Value
}

func (r *firedRecorder) record(source session.DetectionSource) {
	r.source.Store(source)
	r.count.Add(1)
}

func (r *firedRecorder) fired() bool { return r.count.Load() > 0 }

func TestWatcherDetectsRevocationAtStartup(t *testing.T) {
	store := newFakeStore()
	registry := session.NewRegistry(store, newFakeFeed())
	ctx := context.Background()

	if _, _, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Revoke(ctx, "u1", "k1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	rec := &firedRecorder{}
	watcher := session.NewWatcher(registry, nil, "u1", "k1", time.Hour, rec.record)
	defer watcher.Stop()

	watcher.Start(ctx)

	if !waitFor(time.Second, rec.fired) {
		t.Fatalf("startup check missed the revoked session")
	}
	if got := rec.source.Load(); got != session.DetectionStartup {
		t.Fatalf("detection source = %v, want startup", got)
	}
}

func TestWatcherDetectsRevocationByPolling(t *testing.T) {
	store := newFakeStore()
	registry := session.NewRegistry(store, newFakeFeed())
	ctx := context.Background()

	if _, _, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta()); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := &firedRecorder{}
	watcher := session.NewWatcher(registry, nil, "u1", "k1", 10*time.Millisecond, rec.record)
	defer watcher.Stop()

	watcher.Start(ctx)

	// Give the startup check time to see the still-valid row first.
	time.Sleep(20 * time.Millisecond)
	if err := registry.Revoke(ctx, "u1", "k1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if !waitFor(time.Second, rec.fired) {
		t.Fatalf("poll channel missed the revocation")
	}
	if got := rec.source.Load(); got != session.DetectionPoll {
		t.Fatalf("detection source = %v, want poll", got)
	}
}

func TestWatcherDetectsRevocationByPush(t *testing.T) {
	store := newFakeStore()
	feed := newFakeFeed()
	registry := session.NewRegistry(store, feed)
	ctx := context.Background()

	if _, _, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta()); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := &firedRecorder{}
	watcher := session.NewWatcher(registry, feed, "u1", "k1", time.Hour, rec.record)
	defer watcher.Stop()

	watcher.Start(ctx)

	// Revoking through the registry publishes to the feed.
	if !waitFor(time.Second, func() bool {
		return registry.Revoke(ctx, "u1", "k1") == nil && rec.fired()
	}) {
		t.Fatalf("push channel missed the revocation")
	}
	if got := rec.source.Load(); got != session.DetectionPush {
		t.Fatalf("detection source = %v, want push", got)
	}
}

func TestWatcherIgnoresOtherSessionsEvents(t *testing.T) {
	store := newFakeStore()
	feed := newFakeFeed()
	registry := session.NewRegistry(store, feed)
	ctx := context.Background()

	for _, key := range []string{"k1", "k2"} {
		if _, _, err := registry.RegisterOrTouch(ctx, "u1", key, testMeta()); err != nil {
			t.Fatalf("register %s: %v", key, err)
		}
	}

	rec := &firedRecorder{}
	watcher := session.NewWatcher(registry, feed, "u1", "k1", time.Hour, rec.record)
	defer watcher.Stop()

	watcher.Start(ctx)

	if err := registry.Revoke(ctx, "u1", "k2"); err != nil {
		t.Fatalf("revoke k2: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if rec.fired() {
		t.Fatalf("watcher fired for a different session's revocation")
	}
}

func TestWatcherFiresExactlyOnce(t *testing.T) {
	store := newFakeStore()
	feed := newFakeFeed()
	registry := session.NewRegistry(store, feed)
	ctx := context.Background()

	if _, _, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta()); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := &firedRecorder{}
	// Short poll period plus push: both channels will observe the same
	// revocation.
	watcher := session.NewWatcher(registry, feed, "u1", "k1", 5*time.Millisecond, rec.record)
	defer watcher.Stop()

	watcher.Start(ctx)
	time.Sleep(15 * time.Millisecond)

	if err := registry.Revoke(ctx, "u1", "k1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if !waitFor(time.Second, rec.fired) {
		t.Fatalf("revocation not detected")
	}
	time.Sleep(50 * time.Millisecond)
	if got := rec.count.Load(); got != 1 {
		t.Fatalf("handler fired %d times, want exactly once", got)
	}
}

func TestWatcherMissingRowDoesNotFire(t *testing.T) {
	store := newFakeStore()
	registry := session.NewRegistry(store, newFakeFeed())

	rec := &firedRecorder{}
	watcher := session.NewWatcher(registry, nil, "u1", "k1", 5*time.Millisecond, rec.record)
	defer watcher.Stop()

	watcher.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	if rec.fired() {
		t.Fatalf("watcher treated a missing row as revocation")
	}
}

func TestWatcherStopHaltsDetection(t *testing.T) {
	store := newFakeStore()
	registry := session.NewRegistry(store, newFakeFeed())
	ctx := context.Background()

	if _, _, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta()); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := &firedRecorder{}
	watcher := session.NewWatcher(registry, nil, "u1", "k1", 5*time.Millisecond, rec.record)
	watcher.Start(ctx)
	watcher.Stop()

	if err := registry.Revoke(ctx, "u1", "k1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if rec.fired() {
		t.Fatalf("stopped watcher still detected the revocation")
	}
}
