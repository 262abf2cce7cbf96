package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"session-service/internal/config"
	"session-service/internal/session"
	"session-service/internal/util"
)

// HTTPClient talks to the account service. A 401 from the me endpoint means
// "nobody is signed in", which is a normal answer, not an error.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(cfg *config.Config) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.Auth.URL,
		token:   cfg.Auth.Token,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

var _ session.AuthClient = (*HTTPClient)(nil)

func (c *HTTPClient) CurrentUser(ctx context.Context) (*session.AuthUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query current user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}

	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode current user: %w", err)
	}
	if body.UserID == "" {
		return nil, nil
	}
	return &session.AuthUser{ID: body.UserID}, nil
}

func (c *HTTPClient) SignOut(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to build sign-out request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	defer resp.Body.Close()

	// Already signed out is success from the caller's point of view.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent &&
		resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}
	return nil
}

// StaticClient serves a fixed identity from configuration. Used by the
// device agent in development, where no account service is running.
type StaticClient struct {
	userID string
}

func NewStaticClient(userID string) *StaticClient {
	return &StaticClient{userID: userID}
}

var _ session.AuthClient = (*StaticClient)(nil)

func (c *StaticClient) CurrentUser(ctx context.Context) (*session.AuthUser, error) {
	if c.userID == "" {
		return nil, nil
	}
	return &session.AuthUser{ID: c.userID}, nil
}

func (c *StaticClient) SignOut(ctx context.Context) error {
	util.Info("Static auth identity signed out", zap.String("user_id", c.userID))
	c.userID = ""
	return nil
}

// FromConfig picks the HTTP client when an account service URL is
// configured and the static fallback otherwise.
func FromConfig(cfg *config.Config) session.AuthClient {
	if cfg.Auth.URL != "" {
		return NewHTTPClient(cfg)
	}
	return NewStaticClient(cfg.Auth.UserID)
}
