package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "certvault.processing-log", cfg.KafkaTopic)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.DownloadTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffBase)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CERTVAULT_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092,")
	t.Setenv("CERTVAULT_WORKERS", "8")
	t.Setenv("CERTVAULT_DOWNLOAD_TTL", "5m")
	t.Setenv("CERTVAULT_SIGNING_KEY", "prod-key")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 5*time.Minute, cfg.DownloadTTL)
	assert.Equal(t, "prod-key", cfg.TokenSigningKey)
}

func TestFromEnv_IgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("CERTVAULT_WORKERS", "zero")
	t.Setenv("CERTVAULT_MAX_ATTEMPTS", "-3")
	t.Setenv("CERTVAULT_EXTRACTION_TIMEOUT", "soon")

	cfg := FromEnv()

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.ExtractionTimeout)
}
