package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func validConfig() Config {
	return Config{
		Env:               DefaultEnv,
		LogFormat:         DefaultLogFormat,
		MLBlockThreshold:  DefaultMLBlockThreshold,
		MLReviewThreshold: DefaultMLReviewThreshold,
		DedupTTL:          DefaultDedupTTL,
		VelocityWindow:    DefaultVelocityWindow,
		VelocityMax:       DefaultVelocityMax,
		RiskMemoryTTL:     DefaultRiskMemoryTTL,
		LatencyCeiling:    DefaultLatencyCeiling,
		InferenceBudget:   DefaultInferenceBudget,
		AuditQueueSize:    DefaultAuditQueueSize,
		HotCacheSize:      DefaultHotCacheSize,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultDedupTTL, cfg.DedupTTL)
	assert.Equal(t, DefaultVelocityWindow, cfg.VelocityWindow)
	assert.Equal(t, int64(DefaultVelocityMax), cfg.VelocityMax)
	assert.Equal(t, DefaultLatencyCeiling, cfg.LatencyCeiling)
	assert.Equal(t, DefaultMLBlockThreshold, cfg.MLBlockThreshold)
	assert.Equal(t, DefaultAuditQueueSize, cfg.AuditQueueSize)
	assert.True(t, cfg.MLEnabled)
	assert.False(t, cfg.KafkaEnabled())
	assert.False(t, cfg.PubSubEnabled())
	assert.False(t, cfg.AlertsEnabled())
	assert.Equal(t, DefaultAlertMinSeverity, cfg.AlertMinSeverity)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "DEDUP_TTL", "120")
	setEnv(t, "VELOCITY_WINDOW", "2m")
	setEnv(t, "LATENCY_CEILING_MS", "80")
	setEnv(t, "INFERENCE_BUDGET_MS", "20")
	setEnv(t, "ML_REVIEW_THRESHOLD", "0.5")
	setEnv(t, "ML_ENABLED", "false")
	setEnv(t, "KAFKA_BROKERS", "k1:9092, k2:9092,")
	setEnv(t, "PUBSUB_PROJECT", "proj")
	setEnv(t, "PUBSUB_TOPIC", "decisions")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.DedupTTL)
	assert.Equal(t, 2*time.Minute, cfg.VelocityWindow)
	assert.Equal(t, 80*time.Millisecond, cfg.LatencyCeiling)
	assert.Equal(t, 20*time.Millisecond, cfg.InferenceBudget)
	assert.Equal(t, 0.5, cfg.MLReviewThreshold)
	assert.False(t, cfg.MLEnabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.True(t, cfg.PubSubEnabled())
}

func TestLoad_InvalidThresholds(t *testing.T) {
	setEnv(t, "ML_REVIEW_THRESHOLD", "0.9")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ML_REVIEW_THRESHOLD")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"bad env", func(c *Config) { c.Env = "prod" }, "ENV must be"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"block threshold above one", func(c *Config) { c.MLBlockThreshold = 1.5 }, "ML_BLOCK_THRESHOLD"},
		{"review above block", func(c *Config) { c.MLReviewThreshold = 0.9 }, "ML_REVIEW_THRESHOLD"},
		{"zero dedup ttl", func(c *Config) { c.DedupTTL = 0 }, "DEDUP_TTL"},
		{"zero velocity max", func(c *Config) { c.VelocityMax = 0 }, "VELOCITY_MAX"},
		{"zero ceiling", func(c *Config) { c.LatencyCeiling = 0 }, "LATENCY_CEILING_MS"},
		{"budget over ceiling", func(c *Config) { c.InferenceBudget = time.Second }, "INFERENCE_BUDGET_MS"},
		{"zero queue", func(c *Config) { c.AuditQueueSize = 0 }, "AUDIT_QUEUE_SIZE"},
		{"zero hot cache", func(c *Config) { c.HotCacheSize = 0 }, "HOT_CACHE_SIZE"},
		{"pubsub half set", func(c *Config) { c.PubSubProject = "proj" }, "PUBSUB_PROJECT"},
		{"sample ratio above one", func(c *Config) { c.TraceSampleRatio = 2 }, "TRACE_SAMPLE_RATIO"},
		{"bad alert severity", func(c *Config) { c.AlertMinSeverity = "loud" }, "ALERT_MIN_SEVERITY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR_GO", "1h30m")
	setEnv(t, "TEST_DUR_SECS", "45")
	setEnv(t, "TEST_DUR_BAD", "soon")

	assert.Equal(t, 90*time.Minute, getEnvDuration("TEST_DUR_GO", 0))
	assert.Equal(t, 45*time.Second, getEnvDuration("TEST_DUR_SECS", 0))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_BAD", time.Minute))
}

func TestGetEnvFloatAndBool(t *testing.T) {
	setEnv(t, "TEST_FLOAT", "0.7")
	setEnv(t, "TEST_BOOL", "0")

	assert.Equal(t, 0.7, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, 0.1, getEnvFloat("NONEXISTENT_VAR", 0.1))
	assert.False(t, getEnvBool("TEST_BOOL", true))
	assert.True(t, getEnvBool("NONEXISTENT_VAR", true))
}
