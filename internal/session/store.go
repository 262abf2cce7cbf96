package session

import (
	"context"
	"errors"
	"time"

	"session-service/internal/model"
)

var (
	// ErrNotFound means no row exists for the (userID, sessionKey) pair.
	// Absence is never interpreted as revocation: registration may simply
	// not have happened yet.
	ErrNotFound = errors.New("session not found")

	// ErrPermissionDenied means the backend rejected the operation because
	// our credentials are invalid. It neither confirms nor denies
	// revocation; callers leave their state unchanged and retry later.
	ErrPermissionDenied = errors.New("permission denied")
)

// Store is the remote source of truth for device sessions. Implementations
// must enforce the revoked-wins rule at the storage layer: Touch refuses to
// write once revoked_at is set, so a concurrent heartbeat can never
// resurrect a dead session.
type Store interface {
	// Insert creates the row if and only if it does not exist, with
	// revoked_at null. Returns false when the row already exists.
	Insert(ctx context.Context, sess *model.DeviceSession) (bool, error)

	// Touch updates last_seen_at and the device metadata, only while
	// revoked_at is null. Returns false without error when the row is
	// missing or already revoked.
	Touch(ctx context.Context, sess *model.DeviceSession) (bool, error)

	// Get returns the row for (userID, sessionKey) or ErrNotFound.
	Get(ctx context.Context, userID, sessionKey string) (*model.DeviceSession, error)

	// List returns all sessions of the user ordered by last_seen_at
	// descending.
	List(ctx context.Context, userID string) ([]*model.DeviceSession, error)

	// Revoke sets revoked_at only if currently null. Returns false without
	// error when the session was already revoked (idempotent) or missing.
	Revoke(ctx context.Context, userID, sessionKey string, at time.Time) (bool, error)
}

// RevocationEvent is the push-channel payload telling a device its session
// was revoked elsewhere.
type RevocationEvent struct {
	UserID     string    `json:"user_id"`
	SessionKey string    `json:"session_key"`
	RevokedAt  time.Time `json:"revoked_at"`
}

// RevocationFeed is the realtime change-notification collaborator. Publish
// is called by whoever performs a revoke; Subscribe delivers events scoped
// to one user until the returned cancel func runs.
type RevocationFeed interface {
	Publish(ctx context.Context, ev RevocationEvent) error
	Subscribe(ctx context.Context, userID string) (<-chan RevocationEvent, func(), error)
}

// EventSink receives lifecycle events for the audit trail. Implementations
// must be fire-and-forget safe; a nil sink is allowed.
type EventSink interface {
	Record(ctx context.Context, ev model.SessionEvent)
}

// PresenceCache mirrors heartbeats with a TTL equal to the presence
// threshold so read paths can answer "online?" without hitting the store.
type PresenceCache interface {
	MarkSeen(ctx context.Context, userID, sessionKey string, at time.Time) error
}

// DetectionSource tags which channel noticed a revocation. All sources
// converge on the same idempotent blocked handler.
type DetectionSource string

const (
	DetectionPush      DetectionSource = "push"
	DetectionPoll      DetectionSource = "poll"
	DetectionStartup   DetectionSource = "startup"
	DetectionHeartbeat DetectionSource = "heartbeat"
)
