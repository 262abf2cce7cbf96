package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"session-service/internal/util"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Bucketing     BucketingConfig
	Session       SessionConfig
	Auth          AuthConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
	Enabled     bool
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
	Enabled  bool
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
	Enabled  bool
}

type BucketingConfig struct {
	UserBuckets int
}

// SessionConfig carries the tunables of the session lifecycle subsystem.
// Presence is derived, never stored: a session is online while its last
// heartbeat is younger than PresenceThreshold and it has not been revoked.
type SessionConfig struct {
	HeartbeatPeriod   time.Duration
	PollPeriod        time.Duration
	PresenceThreshold time.Duration
	IdentityPath      string
}

// AuthConfig points the device agent at the account service. With an empty
// URL the agent falls back to the env-supplied static identity.
type AuthConfig struct {
	URL    string
	Token  string
	UserID string
}

var loaded *Config

// LoadConfig reads configuration from the environment (and a .env file in
// development) and caches it for the process lifetime.
func LoadConfig() *Config {
	if loaded != nil {
		return loaded
	}

	// Best effort; production supplies real env vars.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         util.GetEnv("SERVER_HOST", "0.0.0.0"),
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:      util.GetEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:  util.GetEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     util.GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:       util.GetEnv("SERVER_DOMAIN", ""),
			CertFile:     util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      util.GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  util.GetEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
			Email:        util.GetEnv("SERVER_ACME_EMAIL", ""),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    util.GetEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "sessions"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:     util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			EventsTopic: util.GetEnv("KAFKA_SESSION_EVENTS_TOPIC", "session-events"),
			Enabled:     util.GetEnvBool("KAFKA_ENABLED", true),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "analytics"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Enabled:  util.GetEnvBool("CLICKHOUSE_ENABLED", true),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    util.GetEnv("ELASTICSEARCH_SESSION_INDEX", "device-sessions"),
			Enabled:  util.GetEnvBool("ELASTICSEARCH_ENABLED", true),
		},
		Bucketing: BucketingConfig{
			UserBuckets: util.GetEnvInt("USER_BUCKETS", 256),
		},
		Session: SessionConfig{
			HeartbeatPeriod:   util.GetEnvDuration("SESSION_HEARTBEAT_PERIOD", 25*time.Second),
			PollPeriod:        util.GetEnvDuration("SESSION_POLL_PERIOD", 12*time.Second),
			PresenceThreshold: util.GetEnvDuration("SESSION_PRESENCE_THRESHOLD", 90*time.Second),
			IdentityPath:      util.GetEnv("SESSION_IDENTITY_PATH", ""),
		},
		Auth: AuthConfig{
			URL:    util.GetEnv("AUTH_URL", ""),
			Token:  util.GetEnv("AUTH_TOKEN", ""),
			UserID: util.GetEnv("AUTH_USER_ID", ""),
		},
	}

	loaded = cfg
	return cfg
}

// Get returns the cached config, loading it on first use.
func Get() *Config {
	return LoadConfig()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
