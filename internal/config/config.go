package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/utafrali/catalogindex/internal/engine"
	pkgconfig "github.com/utafrali/catalogindex/pkg/config"
	"github.com/utafrali/catalogindex/pkg/database"
	"github.com/utafrali/catalogindex/pkg/tracing"
)

// Search engine names accepted by SEARCH_ENGINE.
const (
	EngineElasticsearch = "elasticsearch"
	EngineBleve         = "bleve"
	EngineMemory        = "memory"
)

// Config holds all configuration for the catalog indexer.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"INDEXER_HTTP_PORT" envDefault:"8011"`

	// Database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"catalog"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"catalog_secret"`
	DBName     string `env:"DB_NAME" envDefault:"catalog"`
	DBSSLMode  string `env:"DB_SSL_MODE" envDefault:"disable"`
	DBMaxConns int32  `env:"DB_MAX_CONNS" envDefault:"10"`

	// DBMigrate applies the embedded catalog schema on startup.
	DBMigrate bool `env:"DB_MIGRATE" envDefault:"false"`

	// Redis backs the cross-process rebuild lock. An empty host keeps the
	// lock process-local.
	RedisHost     string        `env:"REDIS_HOST" envDefault:""`
	RedisPort     int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisLockTTL  time.Duration `env:"REDIS_LOCK_TTL" envDefault:"2h"`

	// Search engine selection (elasticsearch, bleve or memory)
	SearchEngine          string `env:"SEARCH_ENGINE" envDefault:"elasticsearch"`
	ElasticsearchURL      string `env:"ELASTICSEARCH_URL" envDefault:"http://localhost:9200"`
	ElasticsearchUser     string `env:"ELASTICSEARCH_USERNAME" envDefault:""`
	ElasticsearchPassword string `env:"ELASTICSEARCH_PASSWORD" envDefault:""`
	BleveDataDir          string `env:"BLEVE_DATA_DIR" envDefault:"./data/bleve"`

	// Cores. Equal primary and reindex names select single-core mode.
	CorePrimary string `env:"SEARCH_CORE_PRIMARY" envDefault:"catalog_primary"`
	CoreReindex string `env:"SEARCH_CORE_REINDEX" envDefault:"catalog_reindex"`
	CoreAlias   string `env:"SEARCH_CORE_ALIAS" envDefault:"catalog"`

	// Indexing
	PageSize          int    `env:"INDEX_PAGE_SIZE" envDefault:"100"`
	UseSku            bool   `env:"INDEX_USE_SKU" envDefault:"false"`
	Namespace         string `env:"INDEX_NAMESPACE" envDefault:"default"`
	FieldCatalogFile  string `env:"FIELD_CATALOG_FILE" envDefault:""`
	ResolverCacheSize int    `env:"INDEX_RESOLVER_CACHE_SIZE" envDefault:"512"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"catalog-indexer"`
	KafkaDLQ     bool     `env:"KAFKA_DLQ_ENABLED" envDefault:"true"`

	// EventDedupTTL is how long processed event ids are remembered.
	EventDedupTTL time.Duration `env:"KAFKA_DEDUP_TTL" envDefault:"24h"`

	// Tracing
	TracingEnabled    bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint   string  `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	TracingSampleRate float64 `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`

	// Profiling. An empty list disables /debug/pprof.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	// Circuit breaker around the search engine
	BreakerMaxRequests  uint32        `env:"BREAKER_MAX_REQUESTS" envDefault:"1"`
	BreakerInterval     time.Duration `env:"BREAKER_INTERVAL" envDefault:"60s"`
	BreakerTimeout      time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`
	BreakerFailureRatio float64       `env:"BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	BreakerMinRequests  uint32        `env:"BREAKER_MIN_REQUESTS" envDefault:"5"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads configuration from vars instead of the process
// environment. A nil map reads the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, vars); err != nil {
		return nil, fmt.Errorf("load indexer config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !slices.Contains([]string{EngineElasticsearch, EngineBleve, EngineMemory}, c.SearchEngine) {
		return fmt.Errorf("invalid SEARCH_ENGINE %q: must be elasticsearch, bleve or memory", c.SearchEngine)
	}
	if c.CorePrimary == "" || c.CoreReindex == "" {
		return fmt.Errorf("SEARCH_CORE_PRIMARY and SEARCH_CORE_REINDEX are required")
	}
	if c.CoreAlias != "" && (c.CoreAlias == c.CorePrimary || c.CoreAlias == c.CoreReindex) {
		return fmt.Errorf("SEARCH_CORE_ALIAS %q must differ from the core names", c.CoreAlias)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("invalid INDEX_PAGE_SIZE: %d", c.PageSize)
	}
	if c.Namespace == "" {
		return fmt.Errorf("INDEX_NAMESPACE is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("invalid TRACING_SAMPLE_RATE: %v", c.TracingSampleRate)
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("invalid BREAKER_FAILURE_RATIO: %v", c.BreakerFailureRatio)
	}
	return nil
}

// SingleCoreMode reports whether rebuilds write straight into the live core.
func (c *Config) SingleCoreMode() bool {
	return c.CorePrimary == c.CoreReindex
}

// Postgres returns the pool settings.
func (c *Config) Postgres() *database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.DBHost
	pg.Port = c.DBPort
	pg.User = c.DBUser
	pg.Password = c.DBPassword
	pg.DBName = c.DBName
	pg.SSLMode = c.DBSSLMode
	pg.MaxConns = c.DBMaxConns
	return &pg
}

// Redis returns the Redis settings, or false when no host is configured.
func (c *Config) Redis() (database.RedisConfig, bool) {
	if c.RedisHost == "" {
		return database.RedisConfig{}, false
	}
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}, true
}

// Breaker returns the circuit breaker settings for the search engine.
func (c *Config) Breaker() engine.BreakerConfig {
	return engine.BreakerConfig{
		Name:         c.SearchEngine,
		MaxRequests:  c.BreakerMaxRequests,
		Interval:     c.BreakerInterval,
		Timeout:      c.BreakerTimeout,
		FailureRatio: c.BreakerFailureRatio,
		MinRequests:  c.BreakerMinRequests,
	}
}

// Tracing returns the tracer settings for service.
func (c *Config) Tracing(service, version string) tracing.Config {
	return tracing.Config{
		ServiceName:    service,
		ServiceVersion: version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.TracingEndpoint,
		SampleRate:     c.TracingSampleRate,
		Enabled:        c.TracingEnabled,
	}
}
