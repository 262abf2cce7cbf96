package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"session-service/internal/client"
	"session-service/internal/session"
	"session-service/internal/util"
)

const revocationChannelPrefix = "session_revocations:"

// RevocationFeed is the Redis pub/sub implementation of the realtime push
// channel. Every user gets one channel; subscribers filter on their own
// session key. Delivery is best-effort, which is exactly why the watcher
// keeps a poll fallback.
type RevocationFeed struct {
	client *client.RedisClient
}

func NewRevocationFeed(client *client.RedisClient) *RevocationFeed {
	return &RevocationFeed{client: client}
}

var _ session.RevocationFeed = (*RevocationFeed)(nil)

func (f *RevocationFeed) Publish(ctx context.Context, ev session.RevocationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal revocation event: %w", err)
	}

	if err := f.client.Publish(ctx, revocationChannelPrefix+ev.UserID, payload); err != nil {
		return fmt.Errorf("failed to publish revocation event: %w", err)
	}

	util.Debug("Revocation event published",
		zap.String("user_id", ev.UserID),
		zap.String("session_key", ev.SessionKey))
	return nil
}

// Subscribe opens a per-user subscription. The returned cancel func closes
// the underlying pub/sub connection and drains the event channel.
func (f *RevocationFeed) Subscribe(ctx context.Context, userID string) (<-chan session.RevocationEvent, func(), error) {
	pubsub := f.client.Subscribe(ctx, revocationChannelPrefix+userID)

	// Force the subscription onto the wire before returning so callers do
	// not miss events published immediately after.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to revocation channel: %w", err)
	}

	events := make(chan session.RevocationEvent)
	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var ev session.RevocationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				util.Warn("Dropping malformed revocation event",
					zap.String("user_id", userID),
					zap.Error(err))
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		_ = pubsub.Close()
	}
	return events, cancel, nil
}
