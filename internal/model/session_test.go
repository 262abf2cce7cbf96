package model_test

import (
	"testing"
	"time"

	"session-service/internal/model"
)

func TestOnlineAtDerivation(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	threshold := 90 * time.Second

	tests := []struct {
		name     string
		lastSeen time.Time
		revoked  bool
		want     bool
	}{
		{"fresh heartbeat", now.Add(-10 * time.Second), false, true},
		{"exactly at threshold", now.Add(-threshold), false, true},
		{"stale heartbeat", now.Add(-threshold - time.Second), false, false},
		{"revoked but fresh", now.Add(-10 * time.Second), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &model.DeviceSession{
				UserID:     "u1",
				SessionKey: "k1",
				LastSeenAt: tt.lastSeen,
			}
			if tt.revoked {
				at := now.Add(-5 * time.Second)
				sess.RevokedAt = &at
			}
			if got := sess.OnlineAt(now, threshold); got != tt.want {
				t.Fatalf("OnlineAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRevokedReflectsRevokedAt(t *testing.T) {
	sess := &model.DeviceSession{UserID: "u1", SessionKey: "k1"}
	if sess.Revoked() {
		t.Fatalf("session with null revoked_at reported revoked")
	}
	at := time.Now()
	sess.RevokedAt = &at
	if !sess.Revoked() {
		t.Fatalf("session with revoked_at set reported valid")
	}
}
