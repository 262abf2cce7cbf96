package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"session-service/internal/model"
	"session-service/internal/util"
)

// State is the controller's answer to "is this device's session valid".
type State int32

const (
	// StateNotApplicable: no authenticated user or no resolvable session
	// key; the controller is inert and never evaluates revocation.
	StateNotApplicable State = iota
	StateUnknown
	StateActive
	// StateBlocked is terminal. The only way out is a fresh authentication
	// with a freshly minted session key.
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateActive:
		return "active"
	case StateBlocked:
		return "blocked"
	default:
		return "not_applicable"
	}
}

// AuthUser is the minimal identity the auth collaborator exposes.
type AuthUser struct {
	ID string
}

// AuthClient is the external auth collaborator: current-user lookup and
// sign-out. Hosts re-run the controller when their auth state changes.
type AuthClient interface {
	CurrentUser(ctx context.Context) (*AuthUser, error)
	SignOut(ctx context.Context) error
}

// IdentityStore resolves the stable per-device session key.
type IdentityStore interface {
	GetOrCreateSessionKey() string
}

// Notice is delivered exactly once when the device is forcibly signed out,
// so the host can show a "signed out from another device" message distinct
// from a plain logged-out state.
type Notice struct {
	UserID     string
	SessionKey string
	Source     DetectionSource
}

// Params are the lifecycle tunables, normally taken from config.Session.
type Params struct {
	HeartbeatPeriod time.Duration
	PollPeriod      time.Duration
}

// Controller is the single owner of session validity for this device. It
// registers the session, runs the heartbeat scheduler and revocation
// watcher, and collapses every detection channel into one idempotent
// blocked transition.
type Controller struct {
	auth      AuthClient
	identity  IdentityStore
	registry  *Registry
	feed      RevocationFeed
	params    Params
	meta      model.DeviceMetadata
	onBlocked func(Notice)

	state      atomic.Int32
	userID     string
	sessionKey string
	scheduler  *Scheduler
	watcher    *Watcher
	blockOnce  sync.Once
}

func NewController(authClient AuthClient, ids IdentityStore, registry *Registry, feed RevocationFeed, params Params, meta model.DeviceMetadata, onBlocked func(Notice)) *Controller {
	c := &Controller{
		auth:      authClient,
		identity:  ids,
		registry:  registry,
		feed:      feed,
		params:    params,
		meta:      meta,
		onBlocked: onBlocked,
	}
	c.state.Store(int32(StateNotApplicable))
	return c
}

// Start resolves the current user and, when one exists, registers this
// device and launches the scheduler and watcher. Without a user (or a key)
// the controller stays inert; that is not an error.
func (c *Controller) Start(ctx context.Context) error {
	user, err := c.auth.CurrentUser(ctx)
	if err != nil {
		// Cannot confirm auth state; stay inert rather than guess.
		util.Warn("Auth lookup failed, session controller inert", zap.Error(err))
		return nil
	}
	if user == nil || user.ID == "" {
		util.Debug("No authenticated user, session controller inert")
		return nil
	}

	key := c.identity.GetOrCreateSessionKey()
	if key == "" {
		util.Warn("No resolvable session key, session controller inert")
		return nil
	}

	c.userID = user.ID
	c.sessionKey = key
	c.state.Store(int32(StateUnknown))

	created, revoked, err := c.registry.RegisterOrTouch(ctx, c.userID, c.sessionKey, c.meta)
	switch {
	case err != nil:
		// Transient: the first heartbeat retries registration.
		util.Warn("Initial session registration failed, will retry on heartbeat",
			zap.String("user_id", c.userID),
			zap.Error(err))
	case revoked:
		c.block(ctx, DetectionStartup)
		return nil
	default:
		c.markActive()
		util.Info("Session lifecycle active",
			zap.String("user_id", c.userID),
			zap.String("session_key", c.sessionKey),
			zap.Bool("first_registration", created))
	}

	c.scheduler = NewScheduler(c.registry, c.userID, c.sessionKey, c.meta, c.params.HeartbeatPeriod, func(revoked bool) {
		if revoked {
			c.block(context.Background(), DetectionHeartbeat)
		} else {
			c.markActive()
		}
	})
	c.watcher = NewWatcher(c.registry, c.feed, c.userID, c.sessionKey, c.params.PollPeriod, func(source DetectionSource) {
		c.block(context.Background(), source)
	})

	c.scheduler.Activate(ctx)
	c.watcher.Start(ctx)
	return nil
}

// AppVisible mirrors the host UI's foreground/visibility hooks onto the
// heartbeat scheduler.
func (c *Controller) AppVisible(ctx context.Context, visible bool) {
	if c.scheduler == nil || c.Blocked() {
		return
	}
	if visible {
		c.scheduler.Activate(ctx)
	} else {
		c.scheduler.Deactivate()
	}
}

// Stop tears down the scheduler and watcher without signing out. Required
// on logout and unmount; a leaked timer would beat under the wrong identity
// after an account switch.
func (c *Controller) Stop() {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.watcher != nil {
		c.watcher.Stop()
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Blocked reports whether the terminal blocked state has been reached.
func (c *Controller) Blocked() bool {
	return c.State() == StateBlocked
}

func (c *Controller) markActive() {
	c.state.CompareAndSwap(int32(StateUnknown), int32(StateActive))
}

// block is the single converging handler for every detection channel.
// Calling it twice is safe; only the first call signs out and notifies.
func (c *Controller) block(ctx context.Context, source DetectionSource) {
	c.blockOnce.Do(func() {
		c.state.Store(int32(StateBlocked))

		util.Info("Session blocked, forcing local sign-out",
			zap.String("user_id", c.userID),
			zap.String("session_key", c.sessionKey),
			zap.String("source", string(source)))

		// Teardown must not run inside a watcher/scheduler callback.
		go c.Stop()

		signOutCtx, cancelSignOut := context.WithTimeout(ctx, 10*time.Second)
		defer cancelSignOut()
		c.registry.RecordBlocked(signOutCtx, c.userID, c.sessionKey, string(source))
		if err := c.auth.SignOut(signOutCtx); err != nil {
			util.Warn("Auth sign-out failed after revocation",
				zap.String("user_id", c.userID),
				zap.Error(err))
		}

		if c.onBlocked != nil {
			c.onBlocked(Notice{
				UserID:     c.userID,
				SessionKey: c.sessionKey,
				Source:     source,
			})
		}
	})
}
