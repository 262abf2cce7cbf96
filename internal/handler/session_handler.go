package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"session-service/internal/config"
	"session-service/internal/model"
	"session-service/internal/search"
	"session-service/internal/session"
	"session-service/internal/util"
)

// SessionHandler handles HTTP requests for device session operations. The
// caller's identity arrives in the X-User-ID and X-Session-Key headers,
// stamped by the gateway after token verification.
type SessionHandler struct {
	registry  *session.Registry
	searcher  *search.SessionSearcher
	threshold time.Duration
	logger    *zap.Logger
}

func NewSessionHandler(registry *session.Registry, searcher *search.SessionSearcher, cfg *config.Config, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		registry:  registry,
		searcher:  searcher,
		threshold: cfg.Session.PresenceThreshold,
		logger:    logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// sessionView is the wire shape of a session row. Online is derived at
// response time from last_seen_at staleness; it is never stored.
type sessionView struct {
	SessionKey  string     `json:"session_key"`
	DeviceLabel string     `json:"device_label"`
	Platform    string     `json:"platform"`
	AppVersion  string     `json:"app_version"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	Online      bool       `json:"online"`
	Current     bool       `json:"current"`
}

type heartbeatRequest struct {
	Meta model.DeviceMetadata `json:"meta"`
}

type heartbeatResponse struct {
	Created bool `json:"created"`
	Revoked bool `json:"revoked"`
}

type revokeOthersResponse struct {
	RevokedSessionKeys []string `json:"revoked_session_keys"`
}

// RegisterRoutes registers all session routes
func (h *SessionHandler) RegisterRoutes(router chi.Router) {
	router.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Get("/search", h.SearchSessions)
		r.Post("/heartbeat", h.Heartbeat)
		r.Post("/revoke-others", h.RevokeOthers)
		r.Delete("/{sessionKey}", h.RevokeSession)
	})
}

// ListSessions returns the caller's own sessions, freshest first.
// @Summary List device sessions
// @Description List the authenticated user's device sessions with derived presence
// @Tags sessions
// @Produce json
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 500 {object} Response
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	userID, sessionKey, ok := h.identity(w, r)
	if !ok {
		return
	}

	sessions, err := h.registry.ListSessions(ctx, userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list sessions")
		return
	}

	now := time.Now().UTC()
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, h.viewOf(sess, sessionKey, now))
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(views, "Sessions retrieved successfully"))
	h.logger.Debug("Sessions listed via HTTP",
		util.String("user_id", userID),
		util.Int("count", len(views)),
		util.Duration("duration", time.Since(startTime)),
	)
}

// Heartbeat registers or refreshes the caller's session row.
// @Summary Session heartbeat
// @Description Upsert the caller's session; reports whether it has been revoked
// @Tags sessions
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 500 {object} Response
// @Router /sessions/heartbeat [post]
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, sessionKey, ok := h.identity(w, r)
	if !ok {
		return
	}
	if sessionKey == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("missing session key"), "Session key is required")
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	created, revoked, err := h.registry.RegisterOrTouch(ctx, userID, sessionKey, req.Meta)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to record heartbeat")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(heartbeatResponse{
		Created: created,
		Revoked: revoked,
	}, "Heartbeat recorded"))
}

// RevokeSession terminally revokes one of the caller's sessions.
// @Summary Revoke a device session
// @Description Terminally revoke one session of the authenticated user
// @Tags sessions
// @Produce json
// @Param sessionKey path string true "Session key"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 500 {object} Response
// @Router /sessions/{sessionKey} [delete]
func (h *SessionHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	userID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	targetKey := chi.URLParam(r, "sessionKey")
	if targetKey == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("session key is required"), "Session key is required")
		return
	}

	if err := h.registry.Revoke(ctx, userID, targetKey); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to revoke session")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Session revoked"))
	h.logger.Info("Session revoked via HTTP",
		util.String("user_id", userID),
		util.String("session_key", targetKey),
		util.Duration("duration", time.Since(startTime)),
	)
}

// RevokeOthers revokes every session of the caller except the current one.
// @Summary Revoke all other sessions
// @Description Log the user out everywhere except the calling device
// @Tags sessions
// @Produce json
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 500 {object} Response
// @Router /sessions/revoke-others [post]
func (h *SessionHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	userID, sessionKey, ok := h.identity(w, r)
	if !ok {
		return
	}
	if sessionKey == "" {
		// Without a caller key this would log out every device, including
		// the caller's own.
		h.respondWithError(w, http.StatusBadRequest, errors.New("missing session key"), "Session key is required")
		return
	}

	revoked, err := h.registry.RevokeAllExcept(ctx, userID, sessionKey)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to revoke other sessions")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(revokeOthersResponse{
		RevokedSessionKeys: revoked,
	}, "Other sessions revoked"))
	h.logger.Info("Other sessions revoked via HTTP",
		util.String("user_id", userID),
		util.Int("revoked_count", len(revoked)),
		util.Duration("duration", time.Since(startTime)),
	)
}

// SearchSessions searches the caller's sessions by device label.
// @Summary Search device sessions
// @Description Full-text search over the caller's registered devices
// @Tags sessions
// @Produce json
// @Param device query string true "Device label query"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 500 {object} Response
// @Router /sessions/search [get]
func (h *SessionHandler) SearchSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, _, ok := h.identity(w, r)
	if !ok {
		return
	}

	query := r.URL.Query().Get("device")
	if query == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("device query is required"), "Device query is required")
		return
	}

	hits, err := h.searcher.SearchByDevice(ctx, userID, query)
	if err != nil {
		if errors.Is(err, search.ErrUnavailable) {
			h.respondWithError(w, http.StatusServiceUnavailable, err, "Device search unavailable")
			return
		}
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to search sessions")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(hits, "Sessions searched successfully"))
}

func (h *SessionHandler) viewOf(sess *model.DeviceSession, callerKey string, now time.Time) sessionView {
	return sessionView{
		SessionKey:  sess.SessionKey,
		DeviceLabel: sess.DeviceLabel,
		Platform:    sess.Platform,
		AppVersion:  sess.AppVersion,
		LastSeenAt:  sess.LastSeenAt,
		CreatedAt:   sess.CreatedAt,
		RevokedAt:   sess.RevokedAt,
		Online:      sess.OnlineAt(now, h.threshold),
		Current:     sess.SessionKey == callerKey,
	}
}

// identity extracts the caller identity headers; the session key may be
// empty for endpoints that do not need it.
func (h *SessionHandler) identity(w http.ResponseWriter, r *http.Request) (userID, sessionKey string, ok bool) {
	userID = r.Header.Get("X-User-ID")
	sessionKey = r.Header.Get("X-Session-Key")
	if userID == "" {
		h.respondWithError(w, http.StatusUnauthorized, errors.New("missing user identity"), "Authentication required")
		return "", "", false
	}
	return userID, sessionKey, true
}

// respondWithJSON sends a JSON response
func (h *SessionHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *SessionHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *SessionHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
