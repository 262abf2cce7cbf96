package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"session-service/internal/bucketing"
	"session-service/internal/client"
	"session-service/internal/config"
	"session-service/internal/model"
	"session-service/internal/session"
	"session-service/internal/util"
)

const stmtInsertEvent = `INSERT INTO session_events
	(event_date, occurred_at, event_type, user_id, session_key, detail)
	VALUES (?, ?, ?, ?, ?, ?)`

// sessionDocument is the shape of a session in the search index. Only
// registration events produce documents; revocations never reach the index
// because search results are filtered against the row store anyway.
type sessionDocument struct {
	UserID       string    `json:"user_id"`
	SessionKey   string    `json:"session_key"`
	DeviceLabel  string    `json:"device_label"`
	Platform     string    `json:"platform"`
	AppVersion   string    `json:"app_version"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Recorder fans session lifecycle events out to the audit surfaces: the
// Kafka event stream, the ClickHouse analytics table and the Elasticsearch
// session index. Every sink is optional and every failure is logged and
// swallowed; audit must never block or fail a session operation.
type Recorder struct {
	kafka      *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
	buckets    *bucketing.Manager
	topic      string
	index      string
}

func NewRecorder(cfg *config.Config, kafka *client.KafkaProducer, ch *client.ClickHouseClient, es *client.ESClient, buckets *bucketing.Manager) *Recorder {
	return &Recorder{
		kafka:      kafka,
		clickhouse: ch,
		es:         es,
		buckets:    buckets,
		topic:      cfg.Kafka.EventsTopic,
		index:      cfg.Elasticsearch.Index,
	}
}

var _ session.EventSink = (*Recorder)(nil)

// Record writes the event to every configured sink. The caller's context is
// detached so a cancelled request does not abort the audit trail.
func (r *Recorder) Record(ctx context.Context, ev model.SessionEvent) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	r.produce(opCtx, ev)
	r.insert(opCtx, ev)
	r.indexSession(opCtx, ev)
}

func (r *Recorder) produce(ctx context.Context, ev model.SessionEvent) {
	if r.kafka == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		util.Error("Failed to marshal session event",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err))
		return
	}

	headers := map[string]string{"event_type": string(ev.Type)}
	if err := r.kafka.ProduceMessage(ctx, r.topic, []byte(ev.UserID), payload, headers); err != nil {
		util.Warn("Failed to produce session event",
			zap.String("event_type", string(ev.Type)),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
	}
}

func (r *Recorder) insert(ctx context.Context, ev model.SessionEvent) {
	if r.clickhouse == nil {
		return
	}

	err := r.clickhouse.Exec(ctx, stmtInsertEvent,
		r.buckets.DateBucket(ev.OccurredAt), ev.OccurredAt, string(ev.Type),
		ev.UserID, ev.SessionKey, ev.Detail)
	if err != nil {
		util.Warn("Failed to insert session event",
			zap.String("event_type", string(ev.Type)),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
	}
}

func (r *Recorder) indexSession(ctx context.Context, ev model.SessionEvent) {
	if r.es == nil || ev.Type != model.EventSessionRegistered || ev.Meta == nil {
		return
	}

	doc := sessionDocument{
		UserID:       ev.UserID,
		SessionKey:   ev.SessionKey,
		DeviceLabel:  ev.Meta.DeviceLabel,
		Platform:     ev.Meta.Platform,
		AppVersion:   ev.Meta.AppVersion,
		RegisteredAt: ev.OccurredAt,
	}

	if err := r.es.IndexDocument(ctx, r.index, ev.UserID+":"+ev.SessionKey, doc); err != nil {
		util.Warn("Failed to index session document",
			zap.String("user_id", ev.UserID),
			zap.String("session_key", ev.SessionKey),
			zap.Error(err))
	}
}
