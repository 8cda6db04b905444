package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matt-riley/surveyz/internal/core"
	"github.com/matt-riley/surveyz/internal/logging"
	"github.com/matt-riley/surveyz/internal/planfile"
)

type validateConfig struct {
	PlansPath string
}

func parseValidateConfig(fs *flag.FlagSet, args []string) (validateConfig, error) {
	var cfg validateConfig
	fs.StringVar(&cfg.PlansPath, "plans", "", "plan file (.json, .yaml or .yml)")
	if err := fs.Parse(args); err != nil {
		return validateConfig{}, err
	}
	if cfg.PlansPath == "" {
		return validateConfig{}, fmt.Errorf("%w: -plans is required", errUsage)
	}
	return cfg, nil
}

func runValidate(cfg validateConfig, out io.Writer) error {
	plans, err := planfile.Load(cfg.PlansPath)
	if err != nil {
		return err
	}

	ruleSets := 0
	for _, plan := range plans.SurveyPlans {
		ruleSets += len(plan.RuleSets)
	}
	fmt.Fprintf(out, "%s: %d plans, %d rule sets\n", cfg.PlansPath, len(plans.SurveyPlans), ruleSets)
	return nil
}

type evalConfig struct {
	PlansPath string
	Event     string
	Value     *string
	Page      string
	Mode      core.EventMatchMode
	LogLevel  string
}

func parseEvalConfig(fs *flag.FlagSet, args []string) (evalConfig, error) {
	var (
		cfg   evalConfig
		value string
		mode  string
	)
	fs.StringVar(&cfg.PlansPath, "plans", "", "plan file (.json, .yaml or .yml)")
	fs.StringVar(&cfg.Event, "event", "", "event name to evaluate")
	fs.StringVar(&value, "value", "", "event value")
	fs.StringVar(&cfg.Page, "page", "", "page name to evaluate")
	fs.StringVar(&mode, "mode", "any", "event match mode (any, all)")
	fs.StringVar(&cfg.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return evalConfig{}, err
	}

	if cfg.PlansPath == "" {
		return evalConfig{}, fmt.Errorf("%w: -plans is required", errUsage)
	}
	if (cfg.Event == "") == (cfg.Page == "") {
		return evalConfig{}, fmt.Errorf("%w: exactly one of -event or -page is required", errUsage)
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "value" {
			cfg.Value = &value
		}
	})
	if cfg.Value != nil && cfg.Page != "" {
		return evalConfig{}, fmt.Errorf("%w: -value only applies to -event", errUsage)
	}

	m, err := core.ParseEventMatchMode(strings.ToLower(mode))
	if err != nil {
		return evalConfig{}, fmt.Errorf("%w: -mode: %w", errUsage, err)
	}
	cfg.Mode = m
	return cfg, nil
}

// runEval evaluates one trigger against a fresh first-launch state. Engine
// diagnostics go to errOut.
func runEval(cfg evalConfig, out, errOut io.Writer) error {
	plans, err := planfile.Load(cfg.PlansPath)
	if err != nil {
		return err
	}

	evaluator := core.NewEvaluator(
		core.WithLogger(logging.NewText(cfg.LogLevel, errOut)),
		core.WithEventMatchMode(cfg.Mode),
	)
	snap := core.Snapshot{Config: plans, State: core.DefaultLocalState(time.Now())}

	var (
		res core.MatchResult
		ok  bool
	)
	if cfg.Page != "" {
		res, ok = evaluator.PageOpened(snap, cfg.Page)
	} else {
		res, ok = evaluator.OnEvent(snap, cfg.Event, cfg.Value)
	}
	if !ok {
		fmt.Fprintln(out, "no match")
		return nil
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
