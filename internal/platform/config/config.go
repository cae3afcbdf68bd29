// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs at startup. Optional
// collaborators (database, Redis, Kafka, GCS, Vertex) are disabled when their
// settings are empty; main wires in-memory substitutes for development.
type Config struct {
	Addr    string
	BaseURL string

	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopic   string

	GCSBucket     string
	ObjectRoot    string
	VertexProject string
	VertexRegion  string
	VertexModel   string

	TokenSigningKey string
	DownloadTTL     time.Duration

	Workers           int
	QueueSize         int
	MaxAttempts       int
	ExtractionTimeout time.Duration
	BackoffBase       time.Duration
}

// FromEnv reads configuration with development defaults.
func FromEnv() Config {
	signingKey := getEnv("CERTVAULT_SIGNING_KEY", "")
	if signingKey == "" {
		// Development default; override in any real deployment.
		signingKey = "dev-secret-key-change-in-production"
	}

	return Config{
		Addr:    getEnv("CERTVAULT_ADDR", ":8080"),
		BaseURL: getEnv("CERTVAULT_BASE_URL", "http://localhost:8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "certvault.processing-log"),

		GCSBucket:     getEnv("CERTVAULT_GCS_BUCKET", ""),
		ObjectRoot:    getEnv("CERTVAULT_OBJECT_ROOT", "./documents"),
		VertexProject: getEnv("CERTVAULT_VERTEX_PROJECT", ""),
		VertexRegion:  getEnv("CERTVAULT_VERTEX_REGION", "us-central1"),
		VertexModel:   getEnv("CERTVAULT_VERTEX_MODEL", "gemini-1.5-pro"),

		TokenSigningKey: signingKey,
		DownloadTTL:     getDuration("CERTVAULT_DOWNLOAD_TTL", 10*time.Minute),

		Workers:           getInt("CERTVAULT_WORKERS", 4),
		QueueSize:         getInt("CERTVAULT_QUEUE_SIZE", 256),
		MaxAttempts:       getInt("CERTVAULT_MAX_ATTEMPTS", 5),
		ExtractionTimeout: getDuration("CERTVAULT_EXTRACTION_TIMEOUT", 60*time.Second),
		BackoffBase:       getDuration("CERTVAULT_BACKOFF_BASE", 500*time.Millisecond),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
