package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config represents worker configuration loaded from environment variables.
type Config struct {
	AppEnv          string
	DatabaseURL     string
	UpstreamBaseURL string
	UpstreamRSAKey  string
	OpsPort         string
	PollingDelay    time.Duration
	RateLimitDelay  time.Duration
	MaxAttempts     int
	WorkerID        string
	HTTPTimeout     time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL is the only hard requirement; the
// process must not start without a queue connection.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", "https://app.xtotoro.com/app/"),
		UpstreamRSAKey:  os.Getenv("UPSTREAM_RSA_KEY"),
		OpsPort:         getEnv("OPS_PORT", "8090"),
		PollingDelay:    time.Millisecond * time.Duration(getEnvInt("WORKER_POLLING_DELAY", 15000)),
		RateLimitDelay:  time.Millisecond * time.Duration(getEnvInt("WORKER_RATE_LIMIT_DELAY", 0)),
		MaxAttempts:     getEnvInt("WORKER_MAX_ATTEMPTS", 3),
		WorkerID:        getEnv("WORKER_ID", ""),
		HTTPTimeout:     time.Second * time.Duration(getEnvInt("UPSTREAM_HTTP_TIMEOUT_SECONDS", 30)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RateLimitDelay < 0 {
		cfg.RateLimitDelay = 0
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
