package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"session-service/internal/model"
	"session-service/internal/util"
)

// Registry synchronizes device identity with the remote source of truth.
// It owns the upsert/list/revoke semantics; liveness scheduling and
// revocation detection sit on top of it.
type Registry struct {
	store    Store
	feed     RevocationFeed
	events   EventSink
	presence PresenceCache
	now      func() time.Time
}

// RegistryOption customizes optional collaborators.
type RegistryOption func(*Registry)

func WithEventSink(sink EventSink) RegistryOption {
	return func(r *Registry) { r.events = sink }
}

func WithPresenceCache(cache PresenceCache) RegistryOption {
	return func(r *Registry) { r.presence = cache }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(store Store, feed RevocationFeed, opts ...RegistryOption) *Registry {
	r := &Registry{
		store: store,
		feed:  feed,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOrTouch upserts the row for (userID, sessionKey): metadata and
// last_seen_at are written on every call, revoked_at is reset to null only
// when the row is first created. A revoked row is never written to again;
// in that case revoked=true is returned so the caller can react.
func (r *Registry) RegisterOrTouch(ctx context.Context, userID, sessionKey string, meta model.DeviceMetadata) (created, revoked bool, err error) {
	now := r.now().UTC()
	sess := &model.DeviceSession{
		UserID:      userID,
		SessionKey:  sessionKey,
		DeviceLabel: meta.DeviceLabel,
		Platform:    meta.Platform,
		AppVersion:  meta.AppVersion,
		LastSeenAt:  now,
		CreatedAt:   now,
	}

	// Touch first: the common case after the first heartbeat. The store
	// refuses the write when the row is missing or revoked.
	touched, err := r.store.Touch(ctx, sess)
	if err != nil {
		return false, false, fmt.Errorf("failed to touch session: %w", err)
	}
	if touched {
		r.markSeen(ctx, userID, sessionKey, now)
		return false, false, nil
	}

	inserted, err := r.store.Insert(ctx, sess)
	if err != nil {
		return false, false, fmt.Errorf("failed to register session: %w", err)
	}
	if inserted {
		r.record(ctx, model.SessionEvent{
			Type:       model.EventSessionRegistered,
			UserID:     userID,
			SessionKey: sessionKey,
			Meta:       &meta,
		})
		r.markSeen(ctx, userID, sessionKey, now)
		util.Info("Device session registered",
			zap.String("user_id", userID),
			zap.String("session_key", sessionKey),
			zap.String("device_label", meta.DeviceLabel))
		return true, false, nil
	}

	// Insert refused: a row existed after all. That can mean terminally
	// revoked, or a concurrent heartbeat created the row between our
	// touch and our insert. Only a non-null revoked_at is revocation.
	existing, err := r.store.Get(ctx, userID, sessionKey)
	if err != nil {
		return false, false, fmt.Errorf("failed to confirm session state: %w", err)
	}
	if existing.Revoked() {
		return false, true, nil
	}

	// Live row written by a racing registration; losing the metadata
	// write to it is harmless.
	r.markSeen(ctx, userID, sessionKey, now)
	return false, false, nil
}

// GetSession returns the current row or ErrNotFound.
func (r *Registry) GetSession(ctx context.Context, userID, sessionKey string) (*model.DeviceSession, error) {
	return r.store.Get(ctx, userID, sessionKey)
}

// ListSessions returns the user's sessions ordered by last_seen_at
// descending, for display to the owning user only.
func (r *Registry) ListSessions(ctx context.Context, userID string) ([]*model.DeviceSession, error) {
	sessions, err := r.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Revoke terminally revokes one session. Revoking an already-revoked or
// missing session is a no-op, not an error.
func (r *Registry) Revoke(ctx context.Context, userID, sessionKey string) error {
	now := r.now().UTC()
	applied, err := r.store.Revoke(ctx, userID, sessionKey, now)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if !applied {
		return nil
	}

	r.record(ctx, model.SessionEvent{
		Type:       model.EventSessionRevoked,
		UserID:     userID,
		SessionKey: sessionKey,
	})
	r.publish(ctx, RevocationEvent{UserID: userID, SessionKey: sessionKey, RevokedAt: now})

	util.Info("Device session revoked",
		zap.String("user_id", userID),
		zap.String("session_key", sessionKey))
	return nil
}

// RevokeAllExcept revokes every non-revoked session of the user other than
// keepSessionKey ("log out everywhere else"). The kept key is never touched
// even when present in the candidate set. Returns the revoked keys.
func (r *Registry) RevokeAllExcept(ctx context.Context, userID, keepSessionKey string) ([]string, error) {
	sessions, err := r.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for revocation: %w", err)
	}

	now := r.now().UTC()
	var revoked []string
	for _, sess := range sessions {
		if sess.SessionKey == keepSessionKey || sess.Revoked() {
			continue
		}
		applied, err := r.store.Revoke(ctx, userID, sess.SessionKey, now)
		if err != nil {
			return revoked, fmt.Errorf("failed to revoke session %s: %w", sess.SessionKey, err)
		}
		if !applied {
			// Lost the race to another revoker; already terminal.
			continue
		}
		revoked = append(revoked, sess.SessionKey)
		r.record(ctx, model.SessionEvent{
			Type:       model.EventSessionRevoked,
			UserID:     userID,
			SessionKey: sess.SessionKey,
			Detail:     "revoke_all_except",
		})
		r.publish(ctx, RevocationEvent{UserID: userID, SessionKey: sess.SessionKey, RevokedAt: now})
	}

	util.Info("Other device sessions revoked",
		zap.String("user_id", userID),
		zap.String("kept_session_key", keepSessionKey),
		zap.Int("revoked_count", len(revoked)))
	return revoked, nil
}

// RecordBlocked notes that a device observed its own revocation and forced
// a local sign-out. Audit only; the row itself was revoked earlier.
func (r *Registry) RecordBlocked(ctx context.Context, userID, sessionKey, source string) {
	r.record(ctx, model.SessionEvent{
		Type:       model.EventSessionBlocked,
		UserID:     userID,
		SessionKey: sessionKey,
		Detail:     source,
	})
}

func (r *Registry) publish(ctx context.Context, ev RevocationEvent) {
	if r.feed == nil {
		return
	}
	if err := r.feed.Publish(ctx, ev); err != nil {
		// Pollers will still catch the revocation.
		util.Warn("Failed to publish revocation event",
			zap.String("user_id", ev.UserID),
			zap.String("session_key", ev.SessionKey),
			zap.Error(err))
	}
}

func (r *Registry) record(ctx context.Context, ev model.SessionEvent) {
	if r.events == nil {
		return
	}
	ev.OccurredAt = r.now().UTC()
	r.events.Record(ctx, ev)
}

func (r *Registry) markSeen(ctx context.Context, userID, sessionKey string, at time.Time) {
	if r.presence == nil {
		return
	}
	if err := r.presence.MarkSeen(ctx, userID, sessionKey, at); err != nil {
		util.Debug("Failed to update presence cache",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}
