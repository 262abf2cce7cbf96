package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"session-service/internal/config"
	"session-service/internal/util"
)

// Statements holds the CQL used by the session repository. Lightweight
// transactions enforce the revoked-wins rule on the server: a touch or a
// revoke only applies while revoked_at is still null.
const (
	stmtInsertSession = `
        INSERT INTO user_sessions (
            user_bucket, user_id, session_key, device_label, platform,
            app_version, created_at, last_seen_at, revoked_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, null) IF NOT EXISTS`

	stmtTouchSession = `
        UPDATE user_sessions
        SET last_seen_at = ?, device_label = ?, platform = ?, app_version = ?
        WHERE user_bucket = ? AND user_id = ? AND session_key = ?
        IF revoked_at = null`

	stmtRevokeSession = `
        UPDATE user_sessions SET revoked_at = ?
        WHERE user_bucket = ? AND user_id = ? AND session_key = ?
        IF revoked_at = null`

	stmtGetSession = `
        SELECT user_id, session_key, device_label, platform, app_version,
               created_at, last_seen_at, revoked_at
        FROM user_sessions
        WHERE user_bucket = ? AND user_id = ? AND session_key = ?`

	stmtListSessions = `
        SELECT user_id, session_key, device_label, platform, app_version,
               created_at, last_seen_at, revoked_at
        FROM user_sessions
        WHERE user_bucket = ? AND user_id = ?`
)

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/app/certs/server.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/app/certs/server.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}, nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
