// Package sdk is the surveyz Go client. It keeps the project's survey plans
// up to date, records session state locally, evaluates event and page
// triggers on the device and hands matching surveys to a Presenter.
//
//	cfg, err := sdk.LoadConfig()
//	client, err := sdk.New(cfg, sdk.PresenterFunc(render))
//	err = client.Start(ctx)
//	defer client.Close()
//	client.OnEvent(ctx, "checkout_completed", nil)
package sdk

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/matt-riley/surveyz/internal/core"
)

var ErrInvalidConfig = errors.New("invalid sdk config")

// Config is read from SURVEYZ_* environment variables by LoadConfig.
type Config struct {
	// BaseURL of the surveyz server, e.g. "https://surveys.example.com".
	BaseURL string `env:"SURVEYZ_BASE_URL"`
	// APIKey is the bearer token in "id.secret" format.
	APIKey string `env:"SURVEYZ_API_KEY"`
	// RefreshInterval applies until the server supplies refreshIntervalSec.
	RefreshInterval time.Duration `env:"SURVEYZ_REFRESH_INTERVAL" envDefault:"5m"`
	// StatePath is the SQLite file for local state. Empty keeps state in memory.
	StatePath string `env:"SURVEYZ_STATE_PATH"`
	// PlansFile replaces the network with a local JSON or YAML plan file.
	PlansFile      string `env:"SURVEYZ_PLANS_FILE"`
	EventMatchMode string `env:"SURVEYZ_EVENT_MATCH_MODE" envDefault:"any"`
	LogLevel       string `env:"SURVEYZ_LOG_LEVEL" envDefault:"info"`
}

// LoadConfig parses and validates the SDK environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate requires either a plan file or a server URL with an API key.
func (c Config) Validate() error {
	if strings.TrimSpace(c.PlansFile) == "" {
		if strings.TrimSpace(c.BaseURL) == "" {
			return fmt.Errorf("%w: SURVEYZ_BASE_URL or SURVEYZ_PLANS_FILE is required", ErrInvalidConfig)
		}
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("%w: SURVEYZ_API_KEY is required with SURVEYZ_BASE_URL", ErrInvalidConfig)
		}
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%w: SURVEYZ_REFRESH_INTERVAL must be positive", ErrInvalidConfig)
	}
	if _, err := core.ParseEventMatchMode(c.EventMatchMode); err != nil {
		return fmt.Errorf("%w: SURVEYZ_EVENT_MATCH_MODE: %w", ErrInvalidConfig, err)
	}
	return nil
}
