// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Redis URL (optional, uses in-memory if not set)

	// Amplifier
	ModelPath         string // empty loads the bundled model
	MLEnabled         bool
	InferenceBudget   time.Duration
	MLBlockThreshold  float64
	MLReviewThreshold float64

	// Guards and risk memory
	DedupTTL       time.Duration
	VelocityWindow time.Duration
	VelocityMax    int64
	RiskMemoryTTL  time.Duration

	// Decision policy
	LatencyCeiling time.Duration
	EngineVersion  string
	PolicyVersion  string

	// Audit pipeline
	AuditQueueSize int
	HotCacheSize   int

	// Event sinks (all optional)
	KafkaBrokers  []string
	KafkaTopic    string
	PubSubProject string
	PubSubTopic   string

	// Operator alert webhook (optional)
	AlertWebhookURL    string
	AlertWebhookSecret string
	AlertMinSeverity   string

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultDedupTTL          = 300 * time.Second
	DefaultVelocityWindow    = 60 * time.Second
	DefaultVelocityMax       = 5
	DefaultRiskMemoryTTL     = time.Hour
	DefaultLatencyCeiling    = 45 * time.Millisecond
	DefaultInferenceBudget   = 10 * time.Millisecond
	DefaultMLBlockThreshold  = 0.85
	DefaultMLReviewThreshold = 0.45
	DefaultAuditQueueSize    = 10000
	DefaultHotCacheSize      = 1000
	DefaultKafkaTopic        = "fraud-decisions"
	DefaultAlertMinSeverity  = "critical"
	DefaultTraceSampleRatio  = 1.0
	DefaultEngineVersion     = "fraudgate-1.0.0"
	DefaultPolicyVersion     = "policy-v1"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ModelPath:          os.Getenv("MODEL_PATH"),
		MLEnabled:          getEnvBool("ML_ENABLED", true),
		InferenceBudget:    getEnvMillis("INFERENCE_BUDGET_MS", DefaultInferenceBudget),
		MLBlockThreshold:   getEnvFloat("ML_BLOCK_THRESHOLD", DefaultMLBlockThreshold),
		MLReviewThreshold:  getEnvFloat("ML_REVIEW_THRESHOLD", DefaultMLReviewThreshold),
		DedupTTL:           getEnvDuration("DEDUP_TTL", DefaultDedupTTL),
		VelocityWindow:     getEnvDuration("VELOCITY_WINDOW", DefaultVelocityWindow),
		VelocityMax:        getEnvInt64("VELOCITY_MAX", DefaultVelocityMax),
		RiskMemoryTTL:      getEnvDuration("RISK_MEMORY_TTL", DefaultRiskMemoryTTL),
		LatencyCeiling:     getEnvMillis("LATENCY_CEILING_MS", DefaultLatencyCeiling),
		EngineVersion:      getEnv("ENGINE_VERSION", DefaultEngineVersion),
		PolicyVersion:      getEnv("POLICY_VERSION", DefaultPolicyVersion),
		AuditQueueSize:     int(getEnvInt64("AUDIT_QUEUE_SIZE", DefaultAuditQueueSize)),
		HotCacheSize:       int(getEnvInt64("HOT_CACHE_SIZE", DefaultHotCacheSize)),
		KafkaBrokers:       getEnvList("KAFKA_BROKERS"),
		KafkaTopic:         getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		PubSubProject:      os.Getenv("PUBSUB_PROJECT"),
		PubSubTopic:        os.Getenv("PUBSUB_TOPIC"),
		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),
		AlertMinSeverity:   getEnv("ALERT_MIN_SEVERITY", DefaultAlertMinSeverity),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:   getEnvFloat("TRACE_SAMPLE_RATIO", DefaultTraceSampleRatio),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, staging or production, got %q", c.Env)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}

	if c.MLBlockThreshold <= 0 || c.MLBlockThreshold > 1 {
		return fmt.Errorf("ML_BLOCK_THRESHOLD must be in (0, 1]")
	}
	if c.MLReviewThreshold <= 0 || c.MLReviewThreshold >= c.MLBlockThreshold {
		return fmt.Errorf("ML_REVIEW_THRESHOLD must be positive and below ML_BLOCK_THRESHOLD")
	}

	if c.DedupTTL <= 0 || c.VelocityWindow <= 0 || c.RiskMemoryTTL <= 0 {
		return fmt.Errorf("DEDUP_TTL, VELOCITY_WINDOW and RISK_MEMORY_TTL must be positive")
	}
	if c.VelocityMax < 1 {
		return fmt.Errorf("VELOCITY_MAX must be at least 1")
	}
	if c.LatencyCeiling <= 0 {
		return fmt.Errorf("LATENCY_CEILING_MS must be positive")
	}
	if c.InferenceBudget <= 0 || c.InferenceBudget > c.LatencyCeiling {
		return fmt.Errorf("INFERENCE_BUDGET_MS must be positive and within LATENCY_CEILING_MS")
	}

	if c.AuditQueueSize < 1 {
		return fmt.Errorf("AUDIT_QUEUE_SIZE must be at least 1")
	}
	if c.HotCacheSize < 1 {
		return fmt.Errorf("HOT_CACHE_SIZE must be at least 1")
	}

	if (c.PubSubProject == "") != (c.PubSubTopic == "") {
		return fmt.Errorf("PUBSUB_PROJECT and PUBSUB_TOPIC must be set together")
	}

	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}

	switch c.AlertMinSeverity {
	case "", "info", "warning", "critical":
	default:
		return fmt.Errorf("ALERT_MIN_SEVERITY must be info, warning or critical")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// KafkaEnabled reports whether the Kafka sink is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// AlertsEnabled reports whether the alert webhook is configured.
func (c *Config) AlertsEnabled() bool {
	return c.AlertWebhookURL != ""
}

// PubSubEnabled reports whether the Pub/Sub sink is configured.
func (c *Config) PubSubEnabled() bool {
	return c.PubSubProject != "" && c.PubSubTopic != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts a Go duration ("90s", "1h") or a bare number of
// seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
