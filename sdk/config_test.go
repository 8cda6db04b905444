package sdk_test

import (
	"errors"
	"testing"
	"time"

	"github.com/matt-riley/surveyz/sdk"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SURVEYZ_BASE_URL", "https://surveys.example.com")
	t.Setenv("SURVEYZ_API_KEY", "key.secret")

	cfg, err := sdk.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.RefreshInterval != 5*time.Minute {
		t.Errorf("RefreshInterval = %v, want 5m", cfg.RefreshInterval)
	}
	if cfg.EventMatchMode != "any" {
		t.Errorf("EventMatchMode = %q, want any", cfg.EventMatchMode)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.StatePath != "" || cfg.PlansFile != "" {
		t.Errorf("unexpected paths: %+v", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SURVEYZ_PLANS_FILE", "/etc/surveyz/plans.yaml")
	t.Setenv("SURVEYZ_REFRESH_INTERVAL", "30s")
	t.Setenv("SURVEYZ_STATE_PATH", "/var/lib/surveyz/state.db")
	t.Setenv("SURVEYZ_EVENT_MATCH_MODE", "all")
	t.Setenv("SURVEYZ_LOG_LEVEL", "debug")

	cfg, err := sdk.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.PlansFile != "/etc/surveyz/plans.yaml" {
		t.Errorf("PlansFile = %q", cfg.PlansFile)
	}
	if cfg.RefreshInterval != 30*time.Second {
		t.Errorf("RefreshInterval = %v, want 30s", cfg.RefreshInterval)
	}
	if cfg.StatePath != "/var/lib/surveyz/state.db" {
		t.Errorf("StatePath = %q", cfg.StatePath)
	}
	if cfg.EventMatchMode != "all" || cfg.LogLevel != "debug" {
		t.Errorf("mode/level = %q/%q", cfg.EventMatchMode, cfg.LogLevel)
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("SURVEYZ_PLANS_FILE", "plans.json")
	t.Setenv("SURVEYZ_REFRESH_INTERVAL", "soon")

	if _, err := sdk.LoadConfig(); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := sdk.Config{
		BaseURL:         "https://surveys.example.com",
		APIKey:          "key.secret",
		RefreshInterval: time.Minute,
		EventMatchMode:  "any",
	}

	tests := []struct {
		name    string
		mutate  func(*sdk.Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*sdk.Config) {}},
		{name: "plans file without server", mutate: func(c *sdk.Config) { c.BaseURL, c.APIKey, c.PlansFile = "", "", "plans.yaml" }},
		{name: "empty match mode", mutate: func(c *sdk.Config) { c.EventMatchMode = "" }},
		{name: "missing base url", mutate: func(c *sdk.Config) { c.BaseURL = "" }, wantErr: true},
		{name: "missing api key", mutate: func(c *sdk.Config) { c.APIKey = " " }, wantErr: true},
		{name: "zero refresh", mutate: func(c *sdk.Config) { c.RefreshInterval = 0 }, wantErr: true},
		{name: "unknown mode", mutate: func(c *sdk.Config) { c.EventMatchMode = "some" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, sdk.ErrInvalidConfig) {
					t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}
