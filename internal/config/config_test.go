package config_test

import (
	"testing"
	"time"

	"session-service/internal/config"
)

func TestLoadConfigReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SESSION_HEARTBEAT_PERIOD", "40s")
	t.Setenv("SESSION_POLL_PERIOD", "20s")
	t.Setenv("SESSION_PRESENCE_THRESHOLD", "2m")
	t.Setenv("USER_BUCKETS", "64")
	t.Setenv("KAFKA_ENABLED", "false")

	cfg := config.LoadConfig()

	if !cfg.IsProduction() {
		t.Fatalf("environment = %q, want production", cfg.Environment)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("server port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Session.HeartbeatPeriod != 40*time.Second {
		t.Fatalf("heartbeat period = %v, want 40s", cfg.Session.HeartbeatPeriod)
	}
	if cfg.Session.PollPeriod != 20*time.Second {
		t.Fatalf("poll period = %v, want 20s", cfg.Session.PollPeriod)
	}
	if cfg.Session.PresenceThreshold != 2*time.Minute {
		t.Fatalf("presence threshold = %v, want 2m", cfg.Session.PresenceThreshold)
	}
	if cfg.Bucketing.UserBuckets != 64 {
		t.Fatalf("user buckets = %d, want 64", cfg.Bucketing.UserBuckets)
	}
	if cfg.Kafka.Enabled {
		t.Fatalf("kafka should be disabled")
	}

	// Config is cached for the process lifetime.
	if again := config.Get(); again != cfg {
		t.Fatalf("Get returned a different instance")
	}
}
