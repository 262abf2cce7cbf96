package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"session-service/internal/client"
	"session-service/internal/session"
	"session-service/internal/util"
)

const presencePrefix = "presence:"

// PresenceCache mirrors heartbeats into a per-user sorted set scored by the
// heartbeat timestamp. It is a TTL mirror only; the authoritative presence
// derivation stays last_seen_at staleness on the row store.
type PresenceCache struct {
	client    *client.RedisClient
	threshold time.Duration
}

func NewPresenceCache(client *client.RedisClient, threshold time.Duration) *PresenceCache {
	return &PresenceCache{
		client:    client,
		threshold: threshold,
	}
}

var _ session.PresenceCache = (*PresenceCache)(nil)

func (c *PresenceCache) MarkSeen(ctx context.Context, userID, sessionKey string, at time.Time) error {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := presencePrefix + userID

	pipe := c.client.Pipeline()
	pipe.ZAdd(opCtx, key, goredis.Z{
		Score:  float64(at.Unix()),
		Member: sessionKey,
	})
	pipe.Expire(opCtx, key, c.threshold)
	if _, err := pipe.Exec(opCtx); err != nil {
		return fmt.Errorf("failed to mark session seen: %w", err)
	}

	return nil
}

// IsOnline answers from the cache alone; a miss means offline.
func (c *PresenceCache) IsOnline(ctx context.Context, userID, sessionKey string, now time.Time) (bool, error) {
	score, found, err := c.client.ZScore(ctx, presencePrefix+userID, sessionKey)
	if err != nil {
		return false, fmt.Errorf("failed to read presence: %w", err)
	}
	if !found {
		return false, nil
	}
	return now.Unix()-int64(score) <= int64(c.threshold.Seconds()), nil
}

// OnlineSessions returns the session keys of the user currently inside the
// presence threshold and prunes expired members while at it.
func (c *PresenceCache) OnlineSessions(ctx context.Context, userID string, now time.Time) ([]string, error) {
	key := presencePrefix + userID
	cutoff := now.Add(-c.threshold).Unix()

	if err := c.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff-1, 10)); err != nil {
		util.Debug("Failed to prune presence set",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	keys, err := c.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list online sessions: %w", err)
	}

	return keys, nil
}
