package config

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/matt-riley/surveyz/internal/core"
)

func fuzzEnv(t *testing.T, key, value string) (Config, error) {
	t.Helper()
	if strings.ContainsRune(value, 0) {
		t.Skip("environment values cannot hold NUL")
	}
	setBaseEnv(t)
	t.Setenv(key, value)
	return Load()
}

func FuzzLoadTriggerRateLimit(f *testing.F) {
	for _, seed := range []string{"", "600", " 1 ", "0", "-5", "+9", "ten", "99999999999999999999"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, value string) {
		cfg, err := fuzzEnv(t, "TRIGGER_RATE_LIMIT", value)

		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			if err != nil || cfg.TriggerRateLimit != defaultTriggerRateLimit {
				t.Fatalf("Load() = (%d, %v), want default", cfg.TriggerRateLimit, err)
			}
			return
		}
		n, parseErr := strconv.Atoi(trimmed)
		if parseErr != nil || n <= 0 {
			if err == nil {
				t.Fatalf("TRIGGER_RATE_LIMIT=%q accepted as %d", value, cfg.TriggerRateLimit)
			}
			return
		}
		if err != nil || cfg.TriggerRateLimit != n {
			t.Fatalf("Load() = (%d, %v), want %d", cfg.TriggerRateLimit, err, n)
		}
	})
}

func FuzzLoadDefaultRefreshIntervalSec(f *testing.F) {
	for _, seed := range []string{"", "0", "300", "-1", "1.5", "  60\t"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, value string) {
		cfg, err := fuzzEnv(t, "DEFAULT_REFRESH_INTERVAL_SEC", value)

		trimmed := strings.TrimSpace(value)
		want := defaultRefreshIntervalSec
		if trimmed != "" {
			n, parseErr := strconv.Atoi(trimmed)
			if parseErr != nil || n < 0 {
				if err == nil {
					t.Fatalf("DEFAULT_REFRESH_INTERVAL_SEC=%q accepted", value)
				}
				return
			}
			want = n
		}
		if err != nil || cfg.DefaultRefreshIntervalSec != want {
			t.Fatalf("Load() = (%d, %v), want %d", cfg.DefaultRefreshIntervalSec, err, want)
		}
	})
}

func FuzzLoadCacheResyncInterval(f *testing.F) {
	for _, seed := range []string{"", "1m", "250ms", "0s", "-1m", "1h2m", "soon"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, value string) {
		cfg, err := fuzzEnv(t, "CACHE_RESYNC_INTERVAL", value)

		trimmed := strings.TrimSpace(value)
		want := defaultCacheResyncInterval
		if trimmed != "" {
			d, parseErr := time.ParseDuration(trimmed)
			if parseErr != nil || d <= 0 {
				if err == nil {
					t.Fatalf("CACHE_RESYNC_INTERVAL=%q accepted as %s", value, cfg.CacheResyncInterval)
				}
				return
			}
			want = d
		}
		if err != nil || cfg.CacheResyncInterval != want {
			t.Fatalf("Load() = (%s, %v), want %s", cfg.CacheResyncInterval, err, want)
		}
	})
}

func FuzzLoadEventMatchMode(f *testing.F) {
	for _, seed := range []string{"", "any", " ALL ", "first", "Any"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, value string) {
		cfg, err := fuzzEnv(t, "EVENT_MATCH_MODE", value)

		want, wantErr := core.ParseEventMatchMode(value)
		if (err != nil) != (wantErr != nil) {
			t.Fatalf("Load() error = %v, ParseEventMatchMode error = %v", err, wantErr)
		}
		if err == nil && cfg.EventMatchMode != want {
			t.Fatalf("EventMatchMode = %v, want %v", cfg.EventMatchMode, want)
		}
	})
}
