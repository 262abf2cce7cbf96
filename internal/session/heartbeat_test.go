package session_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"session-service/internal/session"
)

func newSchedulerForTest(t *testing.T, store *fakeStore, period time.Duration, onBeat func(bool)) *session.Scheduler {
	t.Helper()
	registry := session.NewRegistry(store, newFakeFeed())
	return session.NewScheduler(registry, "u1", "k1", testMeta(), period, onBeat)
}

func TestSchedulerBeatsImmediatelyOnActivate(t *testing.T) {
	store := newFakeStore()
	sched := newSchedulerForTest(t, store, time.Hour, nil)
	defer sched.Stop()

	sched.Activate(context.Background())

	if !waitFor(time.Second, func() bool { return store.row("u1", "k1") != nil }) {
		t.Fatalf("no registration after activation despite long period")
	}
}

func TestSchedulerBeatsPeriodically(t *testing.T) {
	store := newFakeStore()
	sched := newSchedulerForTest(t, store, 10*time.Millisecond, nil)
	defer sched.Stop()

	sched.Activate(context.Background())

	if !waitFor(time.Second, func() bool { return store.touchCount() >= 3 }) {
		t.Fatalf("expected at least 3 touches, got %d", store.touchCount())
	}
}

func TestSchedulerReportsRevocation(t *testing.T) {
	store := newFakeStore()
	registry := session.NewRegistry(store, newFakeFeed())
	ctx := context.Background()

	if _, _, err := registry.RegisterOrTouch(ctx, "u1", "k1", testMeta()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Revoke(ctx, "u1", "k1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	var revokedSeen atomic.Bool
	sched := session.NewScheduler(registry, "u1", "k1", testMeta(), time.Hour, func(revoked bool) {
		if revoked {
			revokedSeen.Store(true)
		}
	})
	defer sched.Stop()

	sched.Activate(ctx)

	if !waitFor(time.Second, revokedSeen.Load) {
		t.Fatalf("heartbeat did not report the revoked session")
	}
}

func TestSchedulerDeactivateStopsBeating(t *testing.T) {
	store := newFakeStore()
	sched := newSchedulerForTest(t, store, 5*time.Millisecond, nil)
	defer sched.Stop()

	sched.Activate(context.Background())
	if !waitFor(time.Second, func() bool { return store.touchCount() >= 1 }) {
		t.Fatalf("scheduler never beat")
	}

	sched.Deactivate()
	if sched.Active() {
		t.Fatalf("scheduler still active after Deactivate")
	}

	before := store.touchCount()
	time.Sleep(50 * time.Millisecond)
	if after := store.touchCount(); after > before+1 {
		t.Fatalf("scheduler kept beating after Deactivate: %d -> %d", before, after)
	}
}

func TestSchedulerStopIsTerminal(t *testing.T) {
	store := newFakeStore()
	sched := newSchedulerForTest(t, store, time.Hour, nil)

	sched.Activate(context.Background())
	sched.Stop()

	sched.Activate(context.Background())
	if sched.Active() {
		t.Fatalf("scheduler reactivated after Stop")
	}
}

func TestSchedulerActivateWhileActiveIsNoop(t *testing.T) {
	store := newFakeStore()
	sched := newSchedulerForTest(t, store, time.Hour, nil)
	defer sched.Stop()

	ctx := context.Background()
	sched.Activate(ctx)
	sched.Activate(ctx)

	if !waitFor(time.Second, func() bool { return store.row("u1", "k1") != nil }) {
		t.Fatalf("scheduler never beat")
	}
	// One insert from the first beat; a second activation must not have
	// started a second timer issuing its own immediate beat.
	time.Sleep(20 * time.Millisecond)
	if store.touchCount() > 1 {
		t.Fatalf("double activation produced extra beats: %d touches", store.touchCount())
	}
}
