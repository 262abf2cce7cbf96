package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"session-service/internal/auth"
	"session-service/internal/config"
	"session-service/internal/factory"
	"session-service/internal/identity"
	"session-service/internal/model"
	"session-service/internal/session"
	"session-service/internal/util"
)

// The agent is the device-side half of the subsystem: it owns the local
// session key, keeps the heartbeat alive and force-signs-out when this
// device is revoked from elsewhere.
func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	ids := identity.NewStore(cfg.Session.IdentityPath)
	authClient := auth.FromConfig(cfg)

	controller := session.NewController(
		authClient,
		ids,
		f.SessionRegistry(),
		f.RevocationFeed(),
		session.Params{
			HeartbeatPeriod: cfg.Session.HeartbeatPeriod,
			PollPeriod:      cfg.Session.PollPeriod,
		},
		deviceMetadata(cfg),
		func(n session.Notice) {
			util.Warn("Signed out from another device",
				util.String("user_id", n.UserID),
				util.String("session_key", n.SessionKey),
				util.String("source", string(n.Source)),
			)
			// The old key is terminally dead; the next sign-in starts
			// from a fresh identity.
			ids.Reset()
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := controller.Start(ctx); err != nil {
		util.Fatal("Failed to start session controller", util.ErrorField(err))
	}

	util.Info("Session agent running",
		util.String("state", controller.State().String()),
		util.String("session_key", ids.GetOrCreateSessionKey()),
	)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan

	util.Info("Received shutdown signal", util.String("signal", sig.String()))
	controller.Stop()
	util.Sync()
}

func deviceMetadata(cfg *config.Config) model.DeviceMetadata {
	hostname, _ := os.Hostname()
	return model.DeviceMetadata{
		DeviceLabel: util.GetEnv("DEVICE_LABEL", hostname),
		Platform:    util.GetEnv("DEVICE_PLATFORM", runtime.GOOS),
		AppVersion:  util.GetEnv("APP_VERSION", "dev"),
	}
}
