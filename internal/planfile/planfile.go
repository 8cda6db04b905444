// Package planfile reads survey configuration from JSON or YAML files.
package planfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/matt-riley/surveyz/internal/core"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("unsupported plan file format")

const reloadDebounce = 100 * time.Millisecond

// Load reads and validates a plan file. The format is chosen by extension:
// .json, .yaml or .yml.
func Load(path string) (core.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Config{}, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(filepath.Ext(path), data)
}

// Parse decodes plan file contents of the format named by ext.
func Parse(ext string, data []byte) (core.Config, error) {
	switch strings.ToLower(ext) {
	case ".json":
		return core.ParseConfig(data)
	case ".yaml", ".yml":
		payload, err := yamlToJSON(data)
		if err != nil {
			return core.Config{}, err
		}
		return core.ParseConfig(payload)
	default:
		return core.Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// yamlToJSON re-encodes YAML as JSON so both formats share one decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	if doc == nil {
		return []byte(`{}`), nil
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	return payload, nil
}

type WatchOption func(*watchOptions)

type watchOptions struct {
	logger   *slog.Logger
	debounce time.Duration
}

func WithLogger(logger *slog.Logger) WatchOption {
	return func(o *watchOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		if d >= 0 {
			o.debounce = d
		}
	}
}

// Watch calls onChange with each valid version of the file until ctx is
// cancelled. Invalid versions are logged and skipped, keeping the last good
// config in effect. The directory is watched so editors that replace the file
// on save are handled.
func Watch(ctx context.Context, path string, onChange func(core.Config), opts ...WatchOption) error {
	options := watchOptions{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		debounce: reloadDebounce,
	}
	for _, opt := range opts {
		opt(&options)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve plan file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch plan directory: %w", err)
	}

	go func() {
		defer watcher.Close()

		var reload <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				reload = time.After(options.debounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				options.logger.Warn("plan file watcher error", "path", abs, "error", err)
			case <-reload:
				reload = nil
				cfg, err := Load(abs)
				if err != nil {
					options.logger.Warn("plan file reload failed, keeping previous plans", "path", abs, "error", err)
					continue
				}
				options.logger.Info("plan file reloaded", "path", abs, "plans", len(cfg.SurveyPlans))
				onChange(cfg)
			}
		}
	}()

	return nil
}
