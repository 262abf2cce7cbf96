package model

import "time"

// -------------------- DEVICE SESSION MODEL --------------------

// DeviceSession is one authenticated device/browser instance for one user.
// Exactly one row exists per (user_id, session_key); the session key is
// minted and persisted on the device itself. A non-null RevokedAt is
// terminal: the row is never reused and never un-revoked.
type DeviceSession struct {
	UserID      string     `json:"user_id" db:"user_id"`
	SessionKey  string     `json:"session_key" db:"session_key"`
	DeviceLabel string     `json:"device_label" db:"device_label"` // best-effort, non-authoritative
	Platform    string     `json:"platform" db:"platform"`
	AppVersion  string     `json:"app_version" db:"app_version"`
	LastSeenAt  time.Time  `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Revoked reports whether the session has been terminally revoked.
func (s *DeviceSession) Revoked() bool {
	return s.RevokedAt != nil
}

// OnlineAt derives presence at the given instant: not revoked and the last
// heartbeat is no older than the threshold. Presence is never persisted.
func (s *DeviceSession) OnlineAt(now time.Time, threshold time.Duration) bool {
	if s.Revoked() {
		return false
	}
	return now.Sub(s.LastSeenAt) <= threshold
}

// DeviceMetadata is the caller-supplied descriptor written at registration.
type DeviceMetadata struct {
	DeviceLabel string `json:"device_label"`
	Platform    string `json:"platform"`
	AppVersion  string `json:"app_version"`
}

// -------------------- SESSION EVENT MODEL --------------------

// SessionEventType enumerates the lifecycle events published to the audit
// stream (Kafka/ClickHouse/Elasticsearch).
type SessionEventType string

const (
	EventSessionRegistered SessionEventType = "session.registered"
	EventSessionRevoked    SessionEventType = "session.revoked"
	EventSessionBlocked    SessionEventType = "session.blocked"
)

type SessionEvent struct {
	Type       SessionEventType `json:"type"`
	UserID     string           `json:"user_id"`
	SessionKey string           `json:"session_key"`
	OccurredAt time.Time        `json:"occurred_at"`
	Detail     string           `json:"detail,omitempty"`
	Meta       *DeviceMetadata  `json:"meta,omitempty"` // set on registration events
}
