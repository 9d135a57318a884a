package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"event-pipeline/internal/bucketing"
	"event-pipeline/internal/client"
	"event-pipeline/internal/config"
	"event-pipeline/internal/monitoring"
	"event-pipeline/internal/repository/clickhouse"
	"event-pipeline/internal/repository/elasticsearch"
	redisrepo "event-pipeline/internal/repository/redis"
	"event-pipeline/internal/repository/scylla"
	"event-pipeline/internal/service"
	"event-pipeline/internal/tls"
	"event-pipeline/internal/util"
)

// Options selects which backing stores a binary opens.
type Options struct {
	ClickHouse    bool
	Elasticsearch bool
	Redis         bool
	Scylla        bool
	KafkaProducer bool
	// Registerer receives the pipeline collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// ServerOptions opens the stores the query API reads from.
func ServerOptions() Options {
	return Options{ClickHouse: true, Elasticsearch: true, Scylla: true}
}

// WorkerOptions opens every sink plus the high-risk path.
func WorkerOptions() Options {
	return Options{ClickHouse: true, Elasticsearch: true, Redis: true, Scylla: true}
}

func GeneratorOptions() Options {
	return Options{KafkaProducer: true}
}

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	opts       Options
	tlsManager *tls.TLSManager
	metrics    *monitoring.PipelineMetrics

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumers   []*client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	bucketingManager *bucketing.BucketingManager

	// Repositories
	eventRepository *clickhouse.EventRepository
	eventIndex      *elasticsearch.EventIndex
	activityTracker *redisrepo.ActivityTracker
	flagRepository  *scylla.SecurityEventRepository

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory loads configuration, initializes logging and opens the stores
// selected by opts. Outside production a store that fails to open is logged
// and left nil.
func NewFactory(opts Options) (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	factory := &Factory{
		config:           cfg,
		opts:             opts,
		metrics:          monitoring.NewPipelineMetrics(opts.Registerer),
		bucketingManager: bucketing.NewBucketingManager(cfg),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(cfg.Server)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := factory.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("clickhouse", factory.clickhouseClient != nil),
		util.Bool("elasticsearch", factory.esClient != nil),
		util.Bool("redis", factory.redisClient != nil),
		util.Bool("scylla", factory.scyllaClient != nil),
		util.Bool("kafka_producer", factory.kafkaProducer != nil),
	)

	return factory, nil
}

// tolerate returns the joined errors in production and only logs them
// elsewhere.
func (f *Factory) tolerate(stage string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if f.config.IsProduction() {
		return fmt.Errorf("critical %s failed: %v", stage, errs)
	}
	for _, err := range errs {
		util.Warn("Service initialization warning", util.String("stage", stage), util.ErrorField(err))
	}
	return nil
}

// initializeClients initializes the selected external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if f.opts.Redis {
		if c, err := client.NewRedisClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			f.redisClient = c
			util.Info("Redis client initialized and healthy")
		}
	}

	if f.opts.Scylla {
		if !f.config.Scylla.Enabled {
			util.Info("ScyllaDB disabled - high-risk flags will not be persisted")
		} else if c, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			f.scyllaClient = c
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	if f.opts.KafkaProducer {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
			if err := producer.HealthCheck(ctx); err != nil {
				util.Warn("Kafka brokers not reachable yet - publishing will retry", util.ErrorField(err))
			} else {
				util.Info("Kafka producer initialized")
			}
		}
	}

	if f.opts.Elasticsearch {
		if c, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			f.esClient = c
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	if f.opts.ClickHouse {
		if c, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			f.clickhouseClient = c
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	return f.tolerate("client initialization", initErrors)
}

// initializeRepositories builds the repositories over the open clients and
// makes sure their schemas exist.
func (f *Factory) initializeRepositories() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if f.clickhouseClient != nil {
		repo, err := clickhouse.NewEventRepository(f.clickhouseClient, f.config.Clickhouse.Table)
		if err == nil {
			err = repo.EnsureSchema(ctx)
		}
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse schema: %w", err))
		} else {
			f.eventRepository = repo
		}
	}

	if f.esClient != nil {
		index := elasticsearch.NewEventIndex(f.esClient, f.config.Elasticsearch.Index)
		if err := index.EnsureIndex(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch index: %w", err))
		} else {
			f.eventIndex = index
		}
	}

	if f.redisClient != nil {
		f.activityTracker = redisrepo.NewActivityTracker(f.redisClient.Scripter(), f.config.Redis.ActivityWindow)
	}

	if f.scyllaClient != nil {
		repo := scylla.NewSecurityEventRepository(f.scyllaClient, f.bucketingManager)
		if err := repo.EnsureSchema(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla schema: %w", err))
		} else {
			f.flagRepository = repo
		}
	}

	return f.tolerate("repository initialization", initErrors)
}

// KafkaConsumers joins the worker consumer group on each topic. The
// consumers are closed with the factory.
func (f *Factory) KafkaConsumers(topics []string) ([]*client.KafkaConsumer, error) {
	consumers := make([]*client.KafkaConsumer, 0, len(topics))
	for _, topic := range topics {
		c, err := client.NewKafkaConsumer(f.config, topic, f.config.Kafka.ConsumerGroup, util.Get())
		if err != nil {
			for _, opened := range consumers {
				opened.Close()
			}
			return nil, fmt.Errorf("kafka consumer %s: %w", topic, err)
		}
		consumers = append(consumers, c)
	}
	f.kafkaConsumers = append(f.kafkaConsumers, consumers...)
	return consumers, nil
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		repos := service.Repositories{
			Events:  f.eventRepository,
			Index:   f.eventIndex,
			Tracker: f.activityTracker,
			Flags:   f.flagRepository,
		}
		if f.kafkaProducer != nil {
			repos.Publisher = f.kafkaProducer
		}
		f.serviceFactory = service.NewServiceFactory(f.config, repos, f.metrics, util.Get())
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes every store this binary selected, concurrently.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
	)
	g, ctx := errgroup.WithContext(ctx)
	probe := func(name string, selected bool, check func(context.Context) error) {
		if !selected {
			return
		}
		g.Go(func() error {
			var err error
			if check == nil {
				err = fmt.Errorf("%s client not initialized", name)
			} else {
				err = check(ctx)
			}
			if err != nil {
				mu.Lock()
				healthErrors[name] = err
				mu.Unlock()
			}
			return nil
		})
	}

	probe("clickhouse", f.opts.ClickHouse, checkOf(f.clickhouseClient != nil, func(ctx context.Context) error {
		return f.clickhouseClient.HealthCheck(ctx)
	}))
	probe("elasticsearch", f.opts.Elasticsearch, checkOf(f.esClient != nil, func(ctx context.Context) error {
		return f.esClient.HealthCheck(ctx)
	}))
	probe("redis", f.opts.Redis, checkOf(f.redisClient != nil, func(ctx context.Context) error {
		return f.redisClient.HealthCheck(ctx)
	}))
	probe("scylla", f.opts.Scylla && f.config.Scylla.Enabled, checkOf(f.scyllaClient != nil, func(ctx context.Context) error {
		return f.scyllaClient.HealthCheck(ctx)
	}))
	probe("kafka", f.opts.KafkaProducer, checkOf(f.kafkaProducer != nil, func(ctx context.Context) error {
		return f.kafkaProducer.HealthCheck(ctx)
	}))

	_ = g.Wait()
	return healthErrors
}

func checkOf(ok bool, fn func(context.Context) error) func(context.Context) error {
	if !ok {
		return nil
	}
	return fn
}

// ==============================
// Other Utility Methods
// ==============================

// IsHealthy ignores the broker and the optional flag store.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "scylla")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		// Flush buffered batches before the sinks go away.
		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			util.Info("Service factory cleaned up")
		}

		for _, c := range f.kafkaConsumers {
			if err := c.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.String("topic", c.Topic()), util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Metrics() *monitoring.PipelineMetrics {
	return f.metrics
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
