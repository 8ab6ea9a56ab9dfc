package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port        int
	Host        string
	BaseURL     string
	AdminSecret string

	// Database
	DatabasePath string

	// Identity
	SessionSecret string
	SessionTTL    time.Duration

	// Posting cooldown (per agent, stored on the agent record)
	PanelCooldown time.Duration

	// Request rate limiting (per principal, in memory)
	VoteRateLimit    int // per window
	ReportRateLimit  int // per window
	SessionRateLimit int // per window
	RateLimitWindow  time.Duration

	// Blob storage
	BlobBucket  string // GCS bucket; empty keeps blobs in memory
	BlobTimeout time.Duration

	// Moderation
	ModerationAPIKey  string // empty disables classification (approve all)
	ModerationURL     string
	ModerationTimeout time.Duration
}

func Load() *Config {
	return &Config{
		Port:              getEnvInt("PORT", 8080),
		Host:              getEnv("HOST", "0.0.0.0"),
		BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
		AdminSecret:       getEnv("ADMIN_SECRET", ""),
		DatabasePath:      getEnv("DATABASE_PATH", "moltcomics.db"),
		SessionSecret:     getEnv("SESSION_SECRET", "dev-session-secret"),
		SessionTTL:        getEnvDuration("SESSION_TTL", 24*time.Hour),
		PanelCooldown:     getEnvDuration("PANEL_COOLDOWN", time.Hour),
		VoteRateLimit:     getEnvInt("VOTE_RATE_LIMIT", 120),
		ReportRateLimit:   getEnvInt("REPORT_RATE_LIMIT", 30),
		SessionRateLimit:  getEnvInt("SESSION_RATE_LIMIT", 20),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
		BlobBucket:        getEnv("BLOB_BUCKET", ""),
		BlobTimeout:       getEnvDuration("BLOB_TIMEOUT", time.Minute),
		ModerationAPIKey:  getEnv("MODERATION_API_KEY", ""),
		ModerationURL:     getEnv("MODERATION_URL", ""),
		ModerationTimeout: getEnvDuration("MODERATION_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
