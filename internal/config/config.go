// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the public HTTP API (default ":8080").
//   - GRPC_ADDR: listen address for the gRPC TriggerService (default ":9090").
//   - STREAM_POLL_INTERVAL: polling interval for SSE and WatchPlans
//     (default "1s", must be > 0 if set).
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - AUTH_RATE_LIMIT: failed auth attempts per IP per minute (default 10).
//   - TRIGGER_RATE_LIMIT: trigger evaluations per project per minute
//     (default 600).
//   - ADMIN_HOSTNAME: tailnet hostname for the admin API. Requires TS_AUTH_KEY.
//   - TS_STATE_DIR: tsnet state directory (default "tsnet-state").
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - EVENT_BATCH_SIZE: max number of plan events returned per stream poll
//     (default "1000", must be > 0 if set).
//   - CACHE_RESYNC_INTERVAL: safety-net cache refresh interval
//     (default "1m", must be > 0 if set).
//   - EVENT_MATCH_MODE: "any" or "all" (default "any").
//   - DEFAULT_REFRESH_INTERVAL_SEC: SDK refresh interval served when a project
//     has no SDK config (default 300, must be >= 0).
//   - AUTO_MIGRATE: apply database migrations on start (default "true").
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matt-riley/surveyz/internal/core"
)

const (
	defaultHTTPAddr                  = ":8080"
	defaultGRPCAddr                  = ":9090"
	defaultStreamPollInterval        = time.Second
	defaultTSStateDir                = "tsnet-state"
	defaultAuthRateLimit             = 10
	defaultTriggerRateLimit          = 600
	defaultMaxJSONBodySize     int64 = 1 << 20 // 1MB
	defaultEventBatchSize            = 1000
	defaultCacheResyncInterval       = time.Minute
	defaultRefreshIntervalSec        = 300
)

// Config holds the runtime configuration for the surveyz server.
type Config struct {
	DatabaseURL               string
	HTTPAddr                  string
	GRPCAddr                  string
	StreamPollInterval        time.Duration
	LogLevel                  string
	AuthRateLimit             int
	TriggerRateLimit          int
	AdminHostname             string
	TSAuthKey                 string
	TSStateDir                string
	MaxJSONBodySize           int64
	EventBatchSize            int
	CacheResyncInterval       time.Duration
	EventMatchMode            core.EventMatchMode
	DefaultRefreshIntervalSec int
	AutoMigrate               bool
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	streamPollInterval, err := positiveDuration("STREAM_POLL_INTERVAL", defaultStreamPollInterval)
	if err != nil {
		return Config{}, err
	}
	cacheResyncInterval, err := positiveDuration("CACHE_RESYNC_INTERVAL", defaultCacheResyncInterval)
	if err != nil {
		return Config{}, err
	}

	authRateLimit, err := positiveInt("AUTH_RATE_LIMIT", defaultAuthRateLimit)
	if err != nil {
		return Config{}, err
	}
	triggerRateLimit, err := positiveInt("TRIGGER_RATE_LIMIT", defaultTriggerRateLimit)
	if err != nil {
		return Config{}, err
	}
	eventBatchSize, err := positiveInt("EVENT_BATCH_SIZE", defaultEventBatchSize)
	if err != nil {
		return Config{}, err
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	refreshIntervalSec := defaultRefreshIntervalSec
	if v := strings.TrimSpace(os.Getenv("DEFAULT_REFRESH_INTERVAL_SEC")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, errors.New("DEFAULT_REFRESH_INTERVAL_SEC must be a non-negative integer")
		}
		refreshIntervalSec = n
	}

	matchMode, err := core.ParseEventMatchMode(envOrDefault("EVENT_MATCH_MODE", "any"))
	if err != nil {
		return Config{}, fmt.Errorf("parse EVENT_MATCH_MODE: %w", err)
	}

	autoMigrate, err := strconv.ParseBool(envOrDefault("AUTO_MIGRATE", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse AUTO_MIGRATE: %w", err)
	}

	// Admin API
	adminHostname := strings.TrimSpace(os.Getenv("ADMIN_HOSTNAME"))
	tsAuthKey := strings.TrimSpace(os.Getenv("TS_AUTH_KEY"))
	if adminHostname != "" && tsAuthKey == "" {
		return Config{}, errors.New("TS_AUTH_KEY is required when ADMIN_HOSTNAME is set")
	}

	return Config{
		DatabaseURL:               databaseURL,
		HTTPAddr:                  envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:                  envOrDefault("GRPC_ADDR", defaultGRPCAddr),
		StreamPollInterval:        streamPollInterval,
		LogLevel:                  envOrDefault("LOG_LEVEL", "info"),
		AuthRateLimit:             authRateLimit,
		TriggerRateLimit:          triggerRateLimit,
		AdminHostname:             adminHostname,
		TSAuthKey:                 tsAuthKey,
		TSStateDir:                envOrDefault("TS_STATE_DIR", defaultTSStateDir),
		MaxJSONBodySize:           maxJSONBodySize,
		EventBatchSize:            eventBatchSize,
		CacheResyncInterval:       cacheResyncInterval,
		EventMatchMode:            matchMode,
		DefaultRefreshIntervalSec: refreshIntervalSec,
		AutoMigrate:               autoMigrate,
	}, nil
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return parsed, nil
}

func positiveInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return parsed, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
