package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"event-pipeline/internal/util"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Environment   string
	ServiceName   string
	Server        ServerConfig
	Logging       LoggingConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Bucketing     BucketingConfig
	Generator     GeneratorConfig
	Pipeline      PipelineConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type KafkaConfig struct {
	Brokers           []string
	ClientID          string
	ConsumerGroup     string
	Partitions        int
	ReplicationFactor int
	TLS               bool
	TLSSkipVerify     bool
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	Table    string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type RedisConfig struct {
	URL            string
	Password       string
	DB             int
	PoolSize       int
	ActivityWindow time.Duration
}

type ScyllaConfig struct {
	Enabled  bool
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// GeneratorConfig drives the synthetic load generator binary.
type GeneratorConfig struct {
	UserPoolSize      int
	IPPoolSize        int
	MaxDelay          time.Duration
	ToggleInterval    time.Duration
	AttackProbability float64
	StartInAttackMode bool
	Seed              uint64
}

// PipelineConfig drives the stream worker.
type PipelineConfig struct {
	ValidationMode  string
	BatchSize       int
	FlushInterval   time.Duration
	SummaryInterval time.Duration
	MetricsAddr     string
}

var (
	current  *Config
	loadOnce sync.Once
)

// LoadConfig reads .env (if present) and the process environment.
// The result is cached; later calls return the same instance.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()
		current = fromEnv()
	})
	return current
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	return LoadConfig()
}

func fromEnv() *Config {
	return &Config{
		Environment: strings.ToLower(util.GetEnv("APP_ENV", EnvDevelopment)),
		ServiceName: util.GetEnv("SERVICE_NAME", "event-pipeline"),
		Server: ServerConfig{
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:      util.GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     util.GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:       util.GetEnv("SERVER_DOMAIN", ""),
			CertFile:     util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      util.GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  util.GetEnv("SERVER_AUTOCERT_DIR", "/var/cache/event-pipeline/certs"),
			Email:        util.GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CORSOrigins:  util.GetEnvSlice("SERVER_CORS_ORIGINS", []string{"http://*", "https://*"}),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "console"),
		},
		Kafka: KafkaConfig{
			Brokers:           util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ClientID:          util.GetEnv("KAFKA_CLIENT_ID", "event-pipeline"),
			ConsumerGroup:     util.GetEnv("KAFKA_CONSUMER_GROUP", "stream-worker-group"),
			Partitions:        util.GetEnvInt("KAFKA_TOPIC_PARTITIONS", 1),
			ReplicationFactor: util.GetEnvInt("KAFKA_TOPIC_REPLICATION", 1),
			TLS:               util.GetEnvBool("KAFKA_TLS", false),
			TLSSkipVerify:     util.GetEnvBool("KAFKA_TLS_SKIP_VERIFY", false),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: util.GetEnv("CLICKHOUSE_USER", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "pipeline"),
			Table:    util.GetEnv("CLICKHOUSE_TABLE", "events"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: util.GetEnv("ELASTICSEARCH_USER", ""),
			Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    util.GetEnv("ELASTICSEARCH_INDEX", "events"),
		},
		Redis: RedisConfig{
			URL:            util.GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:       util.GetEnv("REDIS_PASSWORD", ""),
			DB:             util.GetEnvInt("REDIS_DB", 0),
			PoolSize:       util.GetEnvInt("REDIS_POOL_SIZE", 20),
			ActivityWindow: util.GetEnvDuration("REDIS_ACTIVITY_WINDOW", 5*time.Minute),
		},
		Scylla: ScyllaConfig{
			Enabled:  util.GetEnvBool("SCYLLA_ENABLED", true),
			Nodes:    util.GetEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "pipeline"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  util.GetEnvInt("BUCKETING_USER_BUCKETS", 64),
			EventBuckets: util.GetEnvInt("BUCKETING_EVENT_BUCKETS", 16),
		},
		Generator: GeneratorConfig{
			UserPoolSize:      util.GetEnvInt("GENERATOR_USER_POOL", 1000),
			IPPoolSize:        util.GetEnvInt("GENERATOR_IP_POOL", 500),
			MaxDelay:          util.GetEnvDuration("GENERATOR_MAX_DELAY", 100*time.Millisecond),
			ToggleInterval:    util.GetEnvDuration("GENERATOR_TOGGLE_INTERVAL", 5*time.Minute),
			AttackProbability: util.GetEnvFloat("GENERATOR_ATTACK_PROBABILITY", 0.2),
			StartInAttackMode: util.GetEnvBool("GENERATOR_ATTACK_MODE", false),
			Seed:              uint64(util.GetEnvInt("GENERATOR_SEED", 0)),
		},
		Pipeline: PipelineConfig{
			ValidationMode:  strings.ToLower(util.GetEnv("VALIDATION_MODE", "strict")),
			BatchSize:       util.GetEnvInt("PIPELINE_BATCH_SIZE", 500),
			FlushInterval:   util.GetEnvDuration("PIPELINE_FLUSH_INTERVAL", time.Second),
			SummaryInterval: util.GetEnvDuration("PIPELINE_SUMMARY_INTERVAL", time.Minute),
			MetricsAddr:     util.GetEnv("WORKER_METRICS_ADDR", ":9102"),
		},
	}
}

// Validate reports configuration that would make the binaries misbehave.
func (c *Config) Validate() error {
	var problems []string
	if len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "KAFKA_BROKERS must not be empty")
	}
	if c.Pipeline.ValidationMode != "strict" && c.Pipeline.ValidationMode != "lenient" {
		problems = append(problems, fmt.Sprintf("VALIDATION_MODE %q must be strict or lenient", c.Pipeline.ValidationMode))
	}
	if c.Pipeline.BatchSize <= 0 {
		problems = append(problems, "PIPELINE_BATCH_SIZE must be positive")
	}
	if c.Generator.IPPoolSize < 10 {
		problems = append(problems, "GENERATOR_IP_POOL must be at least 10")
	}
	if c.Generator.UserPoolSize <= 0 {
		problems = append(problems, "GENERATOR_USER_POOL must be positive")
	}
	if c.Generator.AttackProbability < 0 || c.Generator.AttackProbability > 1 {
		problems = append(problems, "GENERATOR_ATTACK_PROBABILITY must be within [0,1]")
	}
	if c.Bucketing.UserBuckets <= 0 {
		problems = append(problems, "BUCKETING_USER_BUCKETS must be positive")
	}
	if c.Server.EnableTLS && c.Server.AutoCert && c.Server.Domain == "" {
		problems = append(problems, "SERVER_DOMAIN is required with SERVER_AUTO_CERT")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
