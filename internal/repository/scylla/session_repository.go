package scylla

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"session-service/internal/bucketing"
	"session-service/internal/model"
	"session-service/internal/session"
	"session-service/internal/util"
)

// SessionRepository is the ScyllaDB implementation of session.Store. The
// user_sessions table is keyed by ((user_bucket, user_id), session_key);
// all conditional writes go through LWTs so "revoked wins" holds even
// against a concurrent heartbeat from another node.
type SessionRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewSessionRepository(client *ScyllaClient, buckets *bucketing.Manager, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		client:  client,
		buckets: buckets,
	}
}

var _ session.Store = (*SessionRepository)(nil)

func (r *SessionRepository) Insert(ctx context.Context, sess *model.DeviceSession) (bool, error) {
	bucket := r.buckets.UserBucket(sess.UserID)

	q := r.client.Query(stmtInsertSession,
		bucket, sess.UserID, sess.SessionKey, sess.DeviceLabel, sess.Platform,
		sess.AppVersion, sess.CreatedAt, sess.LastSeenAt).WithContext(ctx)

	applied, err := q.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to insert device session",
			zap.String("user_id", sess.UserID),
			zap.String("session_key", sess.SessionKey),
			zap.Error(err))
		return false, fmt.Errorf("failed to insert device session: %w", err)
	}

	return applied, nil
}

func (r *SessionRepository) Touch(ctx context.Context, sess *model.DeviceSession) (bool, error) {
	bucket := r.buckets.UserBucket(sess.UserID)

	q := r.client.Query(stmtTouchSession,
		sess.LastSeenAt, sess.DeviceLabel, sess.Platform, sess.AppVersion,
		bucket, sess.UserID, sess.SessionKey).WithContext(ctx)

	applied, err := q.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to touch device session",
			zap.String("user_id", sess.UserID),
			zap.String("session_key", sess.SessionKey),
			zap.Error(err))
		return false, fmt.Errorf("failed to touch device session: %w", err)
	}

	// Not applied: row missing or revoked_at already set.
	return applied, nil
}

func (r *SessionRepository) Get(ctx context.Context, userID, sessionKey string) (*model.DeviceSession, error) {
	bucket := r.buckets.UserBucket(userID)

	var (
		sess      model.DeviceSession
		revokedAt time.Time
	)

	err := r.client.Query(stmtGetSession, bucket, userID, sessionKey).
		WithContext(ctx).
		Scan(&sess.UserID, &sess.SessionKey, &sess.DeviceLabel, &sess.Platform,
			&sess.AppVersion, &sess.CreatedAt, &sess.LastSeenAt, &revokedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, session.ErrNotFound
		}
		util.Error("Failed to get device session",
			zap.String("user_id", userID),
			zap.String("session_key", sessionKey),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get device session: %w", err)
	}

	if !revokedAt.IsZero() {
		sess.RevokedAt = &revokedAt
	}
	return &sess, nil
}

func (r *SessionRepository) List(ctx context.Context, userID string) ([]*model.DeviceSession, error) {
	bucket := r.buckets.UserBucket(userID)

	iter := r.client.Query(stmtListSessions, bucket, userID).WithContext(ctx).Iter()

	var sessions []*model.DeviceSession
	for {
		var (
			sess      model.DeviceSession
			revokedAt time.Time
		)
		if !iter.Scan(&sess.UserID, &sess.SessionKey, &sess.DeviceLabel, &sess.Platform,
			&sess.AppVersion, &sess.CreatedAt, &sess.LastSeenAt, &revokedAt) {
			break
		}
		if !revokedAt.IsZero() {
			sess.RevokedAt = &revokedAt
		}
		copied := sess
		sessions = append(sessions, &copied)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list device sessions",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list device sessions: %w", err)
	}

	// Clustering order is by session_key; callers want freshest first.
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastSeenAt.After(sessions[j].LastSeenAt)
	})

	return sessions, nil
}

func (r *SessionRepository) Revoke(ctx context.Context, userID, sessionKey string, at time.Time) (bool, error) {
	bucket := r.buckets.UserBucket(userID)

	q := r.client.Query(stmtRevokeSession, at, bucket, userID, sessionKey).WithContext(ctx)

	applied, err := q.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to revoke device session",
			zap.String("user_id", userID),
			zap.String("session_key", sessionKey),
			zap.Error(err))
		return false, fmt.Errorf("failed to revoke device session: %w", err)
	}

	return applied, nil
}
