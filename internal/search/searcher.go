package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"session-service/internal/client"
	"session-service/internal/config"
	redisrepo "session-service/internal/repository/redis"
)

// ErrUnavailable means no Elasticsearch backend is configured or reachable;
// device search is off but the rest of the service keeps running.
var ErrUnavailable = errors.New("session search unavailable")

// SessionHit is one search result, decorated with cached presence.
type SessionHit struct {
	UserID       string    `json:"user_id"`
	SessionKey   string    `json:"session_key"`
	DeviceLabel  string    `json:"device_label"`
	Platform     string    `json:"platform"`
	AppVersion   string    `json:"app_version"`
	RegisteredAt time.Time `json:"registered_at"`
	Online       bool      `json:"online"`
}

// SessionSearcher runs device-label queries against the Elasticsearch
// session index. The index only ever sees registration documents, so hits
// may include sessions revoked since; presence comes from the Redis cache
// and a revoked session can never look online.
type SessionSearcher struct {
	es       *client.ESClient
	presence *redisrepo.PresenceCache
	index    string
}

func NewSessionSearcher(es *client.ESClient, presence *redisrepo.PresenceCache, cfg *config.Config) *SessionSearcher {
	return &SessionSearcher{
		es:       es,
		presence: presence,
		index:    cfg.Elasticsearch.Index,
	}
}

// SearchByDevice matches the user's sessions whose device label matches the
// query text.
func (s *SessionSearcher) SearchByDevice(ctx context.Context, userID, query string) ([]SessionHit, error) {
	if s == nil || s.es == nil {
		return nil, ErrUnavailable
	}

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"term": map[string]interface{}{"user_id": userID}},
				},
				"must": []map[string]interface{}{
					{"match": map[string]interface{}{"device_label": query}},
				},
			},
		},
		"size": 50,
	}

	res, err := s.es.Search(ctx, s.index, esQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to search sessions: %w", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source SessionHit `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := s.es.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	now := time.Now().UTC()
	hits := make([]SessionHit, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		h := hit.Source
		if s.presence != nil {
			online, err := s.presence.IsOnline(ctx, h.UserID, h.SessionKey, now)
			if err == nil {
				h.Online = online
			}
		}
		hits = append(hits, h)
	}

	return hits, nil
}
