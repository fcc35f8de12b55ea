package domain

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backend availability
	Tier Tier `json:"tier"`

	// Validation behaviour
	Rules     RulesConfig     `json:"rules"`
	Retention RetentionConfig `json:"retention"`
	Publisher PublisherConfig `json:"publisher"`
	Hooks     HookConfig      `json:"hooks"`

	// Component configurations
	Store    StoreConfig    `json:"store"`
	Cache    CacheConfig    `json:"cache"`
	EventBus EventBusConfig `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// RulesConfig controls how the dispatcher runs the rule families.
type RulesConfig struct {
	Parallel              bool `json:"parallel"`
	MaxParallelRules      int  `json:"maxParallelRules"`
	PerValidationBudgetMs int  `json:"perValidationBudgetMs"`
	CacheEnabled          bool `json:"cacheEnabled"`
	CacheCapacity         int  `json:"cacheCapacity"`
}

// Policy converts the rules configuration into an execution policy.
func (r RulesConfig) Policy() ExecutionPolicy {
	return ExecutionPolicy{
		Parallel:              r.Parallel,
		MaxParallelRules:      r.MaxParallelRules,
		PerValidationBudgetMs: r.PerValidationBudgetMs,
		CacheEnabled:          r.CacheEnabled,
		CacheCapacity:         r.CacheCapacity,
	}
}

// RetentionConfig controls periodic cleanup of old results.
type RetentionConfig struct {
	CutoffDays           int `json:"cutoffDays"`
	SweepIntervalMinutes int `json:"sweepIntervalMinutes"`
}

// PublisherConfig controls outcome event publication.
type PublisherConfig struct {
	MaxPublishAttempts   int `json:"maxPublishAttempts"`
	RetryBackoffMs       int `json:"retryBackoffMs"`
	SweepIntervalSeconds int `json:"sweepIntervalSeconds"`
	SweepBatchSize       int `json:"sweepBatchSize"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + Kafka + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Rules: RulesConfig{
			Parallel:              true,
			MaxParallelRules:      4,
			PerValidationBudgetMs: 2000,
			CacheEnabled:          true,
			CacheCapacity:         1024,
		},
		Retention: RetentionConfig{
			CutoffDays:           90,
			SweepIntervalMinutes: 60,
		},
		Publisher: PublisherConfig{
			MaxPublishAttempts:   5,
			RetryBackoffMs:       100,
			SweepIntervalSeconds: 30,
			SweepBatchSize:       100,
		},
		Hooks: HookConfig{
			AMLTimeoutMs:        500,
			SanctionsTimeoutMs:  500,
			KYCTimeoutMs:        500,
			RegulatoryTimeoutMs: 500,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1024,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Store = StoreConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1024,
	}
	cfg.EventBus = EventBusConfig{
		Type:         "kafka",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaGroupID: "kestrel-validation",
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadFromEnv builds the configuration from defaults, the KESTREL_TIER
// selector, and per-key KESTREL_* environment overrides.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	if strings.EqualFold(os.Getenv("KESTREL_TIER"), string(TierPro)) {
		cfg = ProConfig()
	}
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("KESTREL_PORT", cfg.Server.Port)

	cfg.Rules.Parallel = getEnvBool("KESTREL_RULES_PARALLEL", cfg.Rules.Parallel)
	cfg.Rules.MaxParallelRules = getEnvInt("KESTREL_RULES_MAX_PARALLEL", cfg.Rules.MaxParallelRules)
	cfg.Rules.PerValidationBudgetMs = getEnvInt("KESTREL_RULES_BUDGET_MS", cfg.Rules.PerValidationBudgetMs)
	cfg.Rules.CacheEnabled = getEnvBool("KESTREL_RULES_CACHE_ENABLED", cfg.Rules.CacheEnabled)
	cfg.Rules.CacheCapacity = getEnvInt("KESTREL_RULES_CACHE_CAPACITY", cfg.Rules.CacheCapacity)

	cfg.Retention.CutoffDays = getEnvInt("KESTREL_RETENTION_CUTOFF_DAYS", cfg.Retention.CutoffDays)
	cfg.Retention.SweepIntervalMinutes = getEnvInt("KESTREL_RETENTION_SWEEP_MINUTES", cfg.Retention.SweepIntervalMinutes)

	cfg.Publisher.MaxPublishAttempts = getEnvInt("KESTREL_PUBLISHER_MAX_ATTEMPTS", cfg.Publisher.MaxPublishAttempts)
	cfg.Publisher.RetryBackoffMs = getEnvInt("KESTREL_PUBLISHER_BACKOFF_MS", cfg.Publisher.RetryBackoffMs)
	cfg.Publisher.SweepIntervalSeconds = getEnvInt("KESTREL_PUBLISHER_SWEEP_SECONDS", cfg.Publisher.SweepIntervalSeconds)

	cfg.Hooks.AMLTimeoutMs = getEnvInt("KESTREL_HOOK_AML_TIMEOUT_MS", cfg.Hooks.AMLTimeoutMs)
	cfg.Hooks.SanctionsTimeoutMs = getEnvInt("KESTREL_HOOK_SANCTIONS_TIMEOUT_MS", cfg.Hooks.SanctionsTimeoutMs)
	cfg.Hooks.KYCTimeoutMs = getEnvInt("KESTREL_HOOK_KYC_TIMEOUT_MS", cfg.Hooks.KYCTimeoutMs)
	cfg.Hooks.RegulatoryTimeoutMs = getEnvInt("KESTREL_HOOK_REGULATORY_TIMEOUT_MS", cfg.Hooks.RegulatoryTimeoutMs)

	cfg.Store.Driver = getEnv("KESTREL_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.SQLitePath = getEnv("KESTREL_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.PostgresHost = getEnv("KESTREL_POSTGRES_HOST", cfg.Store.PostgresHost)
	cfg.Store.PostgresPort = getEnvInt("KESTREL_POSTGRES_PORT", cfg.Store.PostgresPort)
	cfg.Store.PostgresUser = getEnv("KESTREL_POSTGRES_USER", cfg.Store.PostgresUser)
	cfg.Store.PostgresPassword = getEnv("KESTREL_POSTGRES_PASSWORD", cfg.Store.PostgresPassword)
	cfg.Store.PostgresDB = getEnv("KESTREL_POSTGRES_DB", cfg.Store.PostgresDB)
	cfg.Store.PostgresSSLMode = getEnv("KESTREL_POSTGRES_SSLMODE", cfg.Store.PostgresSSLMode)

	cfg.Cache.Type = getEnv("KESTREL_CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("KESTREL_REDIS_DB", cfg.Cache.RedisDB)

	cfg.EventBus.Type = getEnv("KESTREL_BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("KESTREL_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)
	if brokers := os.Getenv("KESTREL_KAFKA_BROKERS"); brokers != "" {
		cfg.EventBus.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.EventBus.KafkaGroupID = getEnv("KESTREL_KAFKA_GROUP_ID", cfg.EventBus.KafkaGroupID)
	cfg.EventBus.KafkaVersion = getEnv("KESTREL_KAFKA_VERSION", cfg.EventBus.KafkaVersion)

	cfg.Logging.Level = getEnv("KESTREL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Tracing.Enabled = getEnvBool("KESTREL_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("KESTREL_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
