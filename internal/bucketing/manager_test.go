package bucketing_test

import (
	"testing"
	"time"

	"session-service/internal/bucketing"
	"session-service/internal/config"
)

func newManagerForTest(buckets int) *bucketing.Manager {
	cfg := &config.Config{}
	cfg.Bucketing.UserBuckets = buckets
	return bucketing.NewManager(cfg)
}

func TestUserBucketIsConsistent(t *testing.T) {
	m := newManagerForTest(256)

	first := m.UserBucket("user-12345")
	for i := 0; i < 100; i++ {
		if got := m.UserBucket("user-12345"); got != first {
			t.Fatalf("bucket changed across calls: %d != %d", got, first)
		}
	}
}

func TestUserBucketStaysInRange(t *testing.T) {
	m := newManagerForTest(16)

	users := []string{"a", "b", "user-1", "user-2", "some-long-user-identifier"}
	for _, u := range users {
		if b := m.UserBucket(u); b < 0 || b >= 16 {
			t.Fatalf("bucket %d for %q out of range [0,16)", b, u)
		}
	}
}

func TestZeroConfigClampsToSingleBucket(t *testing.T) {
	m := newManagerForTest(0)

	if got := m.UserBuckets(); got != 1 {
		t.Fatalf("UserBuckets = %d, want clamp to 1", got)
	}
	if b := m.UserBucket("user-1"); b != 0 {
		t.Fatalf("bucket = %d, want 0 with a single bucket", b)
	}
}

func TestDateBucketUsesUTCDate(t *testing.T) {
	m := newManagerForTest(1)

	loc := time.FixedZone("UTC+5", 5*3600)
	ts := time.Date(2026, 8, 2, 1, 30, 0, 0, loc) // still Aug 1 in UTC
	if got := m.DateBucket(ts); got != "2026-08-01" {
		t.Fatalf("DateBucket = %q, want 2026-08-01", got)
	}
}
