package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"session-service/internal/audit"
	"session-service/internal/bucketing"
	"session-service/internal/client"
	"session-service/internal/config"
	redisrepo "session-service/internal/repository/redis"
	"session-service/internal/repository/scylla"
	"session-service/internal/search"
	"session-service/internal/session"
	"session-service/internal/tls"
	"session-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	bucketingManager *bucketing.Manager

	// Session domain
	sessionStore    session.Store
	revocationFeed  session.RevocationFeed
	presenceCache   *redisrepo.PresenceCache
	eventRecorder   *audit.Recorder
	sessionRegistry *session.Registry
	sessionSearcher *search.SessionSearcher

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(cfg)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.bucketingManager = bucketing.NewManager(cfg)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is optional; lifecycle events still reach ClickHouse without it.
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.Enabled {
		if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			util.Warn("Elasticsearch initialization failed - device search disabled", util.ErrorField(err))
		} else {
			f.esClient = esClient
		}
	}

	// ClickHouse
	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without analytics", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// ==============================
// Session Domain Initialization
// ==============================

func (f *Factory) SessionStore() session.Store {
	if f.sessionStore == nil {
		f.sessionStore = scylla.NewSessionRepository(f.scyllaClient, f.BucketingManager(), util.Get())
	}
	return f.sessionStore
}

func (f *Factory) RevocationFeed() session.RevocationFeed {
	if f.revocationFeed == nil {
		f.revocationFeed = redisrepo.NewRevocationFeed(f.redisClient)
	}
	return f.revocationFeed
}

func (f *Factory) PresenceCache() *redisrepo.PresenceCache {
	if f.presenceCache == nil {
		f.presenceCache = redisrepo.NewPresenceCache(f.redisClient, f.config.Session.PresenceThreshold)
	}
	return f.presenceCache
}

func (f *Factory) EventRecorder() *audit.Recorder {
	if f.eventRecorder == nil {
		f.eventRecorder = audit.NewRecorder(f.config,
			f.kafkaProducer, f.clickhouseClient, f.esClient, f.BucketingManager())
	}
	return f.eventRecorder
}

func (f *Factory) SessionRegistry() *session.Registry {
	if f.sessionRegistry == nil {
		f.sessionRegistry = session.NewRegistry(
			f.SessionStore(),
			f.RevocationFeed(),
			session.WithEventSink(f.EventRecorder()),
			session.WithPresenceCache(f.PresenceCache()),
		)
	}
	return f.sessionRegistry
}

func (f *Factory) SessionSearcher() *search.SessionSearcher {
	if f.sessionSearcher == nil {
		f.sessionSearcher = search.NewSessionSearcher(f.esClient, f.PresenceCache(), f.config)
	}
	return f.sessionSearcher
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// Audit sinks degrade gracefully; only the row store and the push
	// channel are load-bearing.
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

// HealthStatus renders the dependency health map for the health endpoint.
func (f *Factory) HealthStatus(ctx context.Context) map[string]string {
	status := map[string]string{
		"redis":  "healthy",
		"scylla": "healthy",
	}
	for dep, err := range f.HealthCheck(ctx) {
		if err != nil {
			status[dep] = "unhealthy"
		}
	}
	// Optional sinks never degrade the service.
	delete(status, "kafka")
	delete(status, "clickhouse")
	delete(status, "elasticsearch")
	return status
}

// ==============================
// Shutdown
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) RedisClient() *client.RedisClient {
	return f.redisClient
}

func (f *Factory) BucketingManager() *bucketing.Manager {
	if f.bucketingManager == nil {
		f.bucketingManager = bucketing.NewManager(f.config)
	}
	return f.bucketingManager
}
