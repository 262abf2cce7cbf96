package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"session-service/internal/util"
)

// Watcher detects that the current device's session has been revoked and
// triggers the blocked handler exactly once. Two channels run side by side
// because either can fail silently: a push subscription on the revocation
// feed and a periodic poll of the row itself. One immediate check runs at
// start so a session revoked while the app was closed is caught at launch.
type Watcher struct {
	registry   *Registry
	feed       RevocationFeed
	userID     string
	sessionKey string
	pollPeriod time.Duration
	onRevoked  func(DetectionSource)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	group  singleflight.Group
	fired  atomic.Bool
}

// NewWatcher builds a stopped watcher. feed may be nil, in which case only
// the poll channel runs.
func NewWatcher(registry *Registry, feed RevocationFeed, userID, sessionKey string, pollPeriod time.Duration, onRevoked func(DetectionSource)) *Watcher {
	return &Watcher{
		registry:   registry,
		feed:       feed,
		userID:     userID,
		sessionKey: sessionKey,
		pollPeriod: pollPeriod,
		onRevoked:  onRevoked,
	}
}

// Start launches both detection channels. Calling Start on a running
// watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.pollLoop(runCtx)

	if w.feed != nil {
		w.wg.Add(1)
		go w.pushLoop(runCtx)
	}

	util.Debug("Revocation watcher started",
		zap.String("user_id", w.userID),
		zap.String("session_key", w.sessionKey),
		zap.Duration("poll_period", w.pollPeriod),
		zap.Bool("push_channel", w.feed != nil))
}

// Stop tears down both channels: subscription closed, timer cleared. Must
// run on logout or unmount so no watcher leaks across account switches.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	// Immediate check before the first tick.
	w.checkNow(ctx, DetectionStartup)

	ticker := time.NewTicker(w.pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkNow(ctx, DetectionPoll)
		}
	}
}

func (w *Watcher) pushLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		events, unsubscribe, err := w.feed.Subscribe(ctx, w.userID)
		if err != nil {
			util.Warn("Revocation feed subscription failed, relying on polling",
				zap.String("user_id", w.userID),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollPeriod):
				continue
			}
		}

		w.consume(ctx, events)
		unsubscribe()

		select {
		case <-ctx.Done():
			return
		default:
			// Transport dropped; resubscribe.
		}
	}
}

func (w *Watcher) consume(ctx context.Context, events <-chan RevocationEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.SessionKey != w.sessionKey || ev.RevokedAt.IsZero() {
				continue
			}
			w.fire(DetectionPush)
		}
	}
}

// checkNow fetches the current row and fires when revoked_at is non-null.
// Overlapping checks (startup racing the first tick, a push event racing a
// poll) are collapsed through singleflight.
func (w *Watcher) checkNow(ctx context.Context, source DetectionSource) {
	_, _, _ = w.group.Do("check", func() (interface{}, error) {
		checkCtx, cancelCheck := context.WithTimeout(ctx, 10*time.Second)
		defer cancelCheck()

		sess, err := w.registry.GetSession(checkCtx, w.userID, w.sessionKey)
		switch {
		case errors.Is(err, ErrNotFound):
			// Registration not done yet or lost; absence is not revocation.
			return nil, nil
		case errors.Is(err, ErrPermissionDenied):
			// Cannot confirm validity either way; keep state and retry.
			util.Warn("Revocation check rejected by backend, state unchanged",
				zap.String("user_id", w.userID))
			return nil, nil
		case err != nil:
			util.Warn("Revocation check failed, retrying at next tick",
				zap.String("user_id", w.userID),
				zap.Error(err))
			return nil, nil
		}

		if sess.Revoked() {
			w.fire(source)
		}
		return nil, nil
	})
}

func (w *Watcher) fire(source DetectionSource) {
	if !w.fired.CompareAndSwap(false, true) {
		return
	}
	util.Info("Session revocation detected",
		zap.String("user_id", w.userID),
		zap.String("session_key", w.sessionKey),
		zap.String("source", string(source)))
	if w.onRevoked != nil {
		w.onRevoked(source)
	}
}
