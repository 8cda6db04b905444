// Package state holds the device-side survey state: the current config
// snapshot, the session recorder and their SQLite persistence.
package state

import (
	"sync/atomic"

	"github.com/matt-riley/surveyz/internal/core"
)

// ConfigHolder publishes config snapshots. Readers always see a whole config;
// Store swaps the reference and never mutates a published value.
type ConfigHolder struct {
	current atomic.Pointer[core.Config]
}

func NewConfigHolder(initial core.Config) *ConfigHolder {
	h := &ConfigHolder{}
	h.Store(initial)
	return h
}

// Load returns the current config, or an empty one if nothing was stored.
func (h *ConfigHolder) Load() core.Config {
	cfg := h.current.Load()
	if cfg == nil {
		return core.Config{SurveyPlans: []core.SurveyPlan{}}
	}
	return *cfg
}

func (h *ConfigHolder) Store(cfg core.Config) {
	if cfg.SurveyPlans == nil {
		cfg.SurveyPlans = []core.SurveyPlan{}
	}
	h.current.Store(&cfg)
}
