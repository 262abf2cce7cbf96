package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"session-service/internal/config"
)

// Manager assigns users to stable buckets so the session table can be
// partitioned by (user_bucket, user_id) without hot partitions.
type Manager struct {
	userBuckets int
	hasherPool  sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	buckets := cfg.Bucketing.UserBuckets
	if buckets < 1 {
		buckets = 1
	}
	m := &Manager{
		userBuckets: buckets,
	}

	// Pool of hashers to avoid per-call allocation
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// UserBucket returns the consistent bucket for a user ID (0..userBuckets-1).
func (m *Manager) UserBucket(userID string) int {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(userID))
	return int(hasher.Sum64() % uint64(m.userBuckets))
}

// DateBucket returns the UTC date partition used by the analytics sink.
func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// UserBuckets returns the configured bucket count.
func (m *Manager) UserBuckets() int {
	return m.userBuckets
}
