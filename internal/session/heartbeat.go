package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"session-service/internal/model"
	"session-service/internal/util"
)

// Scheduler keeps last_seen_at fresh for the current device while the app is
// in the foreground. Idle <-> Active transitions follow the host UI's
// visibility hooks; entering Active issues one immediate heartbeat so
// presence reflects reality without waiting a full period. Heartbeats are a
// liveness signal, not an activity signal: they fire on a fixed period
// regardless of user interaction, and failures are logged and swallowed.
type Scheduler struct {
	registry   *Registry
	userID     string
	sessionKey string
	meta       model.DeviceMetadata
	period     time.Duration
	onBeat     func(revoked bool)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewScheduler builds an idle scheduler. onBeat is invoked after every
// heartbeat that completed a round-trip, with revoked=true when the beat
// discovered the session is terminally revoked (detection piggybacks on the
// existing timer); it may be nil.
func NewScheduler(registry *Registry, userID, sessionKey string, meta model.DeviceMetadata, period time.Duration, onBeat func(revoked bool)) *Scheduler {
	return &Scheduler{
		registry:   registry,
		userID:     userID,
		sessionKey: sessionKey,
		meta:       meta,
		period:     period,
		onBeat:     onBeat,
	}
}

// Activate transitions Idle -> Active: one immediate heartbeat, then one per
// period until Deactivate or Stop. Calling Activate while active is a no-op.
func (s *Scheduler) Activate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.beat(runCtx)

		ticker := time.NewTicker(s.period)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.beat(runCtx)
			}
		}
	}()

	util.Debug("Heartbeat scheduler activated",
		zap.String("user_id", s.userID),
		zap.Duration("period", s.period))
}

// Deactivate transitions Active -> Idle: the timer stops and no explicit
// going-offline signal is sent. Observers infer offline-ness from
// last_seen_at staleness alone.
func (s *Scheduler) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateLocked()
}

// Stop is terminal: the scheduler can no longer be activated. It must be
// called on logout or unmount so no timer keeps beating under a stale
// identity.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.deactivateLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

// Active reports whether the periodic timer is running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) deactivateLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scheduler) beat(ctx context.Context) {
	beatCtx, cancelBeat := context.WithTimeout(ctx, 10*time.Second)
	defer cancelBeat()

	_, revoked, err := s.registry.RegisterOrTouch(beatCtx, s.userID, s.sessionKey, s.meta)
	if err != nil {
		// Fire and forget: the next tick retries.
		util.Warn("Heartbeat failed",
			zap.String("user_id", s.userID),
			zap.String("session_key", s.sessionKey),
			zap.Error(err))
		return
	}

	if s.onBeat != nil {
		s.onBeat(revoked)
	}
}
