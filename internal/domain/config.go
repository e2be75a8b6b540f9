package domain

import "time"

// Config holds the complete Medoracle configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Tier determines feature availability
	Tier Tier `mapstructure:"tier" yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository" yaml:"repository"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventBus" yaml:"eventBus"`

	// Pipeline
	Rules      RulesConfig      `mapstructure:"rules" yaml:"rules"`
	Normalizer NormalizerConfig `mapstructure:"normalizer" yaml:"normalizer"`
	Recorder   RecorderConfig   `mapstructure:"recorder" yaml:"recorder"`

	// Async worker
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `mapstructure:"writeTimeout" yaml:"writeTimeout"` // seconds

	// Per-tenant request rate limit. Zero disables limiting.
	RateLimit float64 `mapstructure:"rateLimit" yaml:"rateLimit"`
	RateBurst int     `mapstructure:"rateBurst" yaml:"rateBurst"`

	// BatchConcurrency bounds parallel pipelines in POST /claims/batch.
	BatchConcurrency int `mapstructure:"batchConcurrency" yaml:"batchConcurrency"`
}

// RulesConfig locates the rule source document.
type RulesConfig struct {
	// Path to the YAML rule document. When empty, the latest stored
	// revision is used.
	Path string `mapstructure:"path" yaml:"path"`

	// Watch reloads the catalog when the rule file changes on disk.
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// NormalizerConfig controls claim coercion and defaulting.
type NormalizerConfig struct {
	DefaultCurrency string   `mapstructure:"defaultCurrency" yaml:"defaultCurrency"`
	MinConfidence   float64  `mapstructure:"minConfidence" yaml:"minConfidence"`
	DateLayouts     []string `mapstructure:"dateLayouts" yaml:"dateLayouts"`
}

// RecorderConfig controls audit store retries.
type RecorderConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts    int           `mapstructure:"maxAttempts" yaml:"maxAttempts"`
	InitialBackoff time.Duration `mapstructure:"initialBackoff" yaml:"initialBackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxBackoff" yaml:"maxBackoff"`
}

// WorkerConfig controls the async bus worker.
type WorkerConfig struct {
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
	TenantIDs []string `mapstructure:"tenantIds" yaml:"tenantIds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName  string `mapstructure:"serviceName" yaml:"serviceName"`
	ExporterType string `mapstructure:"exporterType" yaml:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs with SQLite, an in-process LRU and channels.
	TierCommunity Tier = "community"

	// TierPro runs with PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30,
			WriteTimeout:     30,
			RateLimit:        0,
			RateBurst:        20,
			BatchConcurrency: 8,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./medoracle.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			RecordTTL:    time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Rules: RulesConfig{
			Path: "./rules.yaml",
		},
		Normalizer: NormalizerConfig{
			DefaultCurrency: "EUR",
			MinConfidence:   0.7,
			DateLayouts:     []string{"2006-01-02", "02/01/2006", "2006/01/02"},
		},
		Recorder: RecorderConfig{
			Timeout:        2 * time.Second,
			MaxAttempts:    5,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "medoracle",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "medoracle",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		RecordTTL:      24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
