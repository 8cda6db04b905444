package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/matt-riley/surveyz/internal/core"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var ErrNotFound = errors.New("not found")

// SQLiteStore persists local state and the last fetched config.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps the WAL pragma and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadState returns the persisted state or ErrNotFound.
func (s *SQLiteStore) LoadState(ctx context.Context) (core.LocalState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM local_state WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LocalState{}, ErrNotFound
	}
	if err != nil {
		return core.LocalState{}, fmt.Errorf("load state: %w", err)
	}

	var st core.LocalState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return core.LocalState{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, st core.LocalState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO local_state (id, state_json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at
	`, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadConfig returns the last saved config with the time it was fetched, or
// ErrNotFound.
func (s *SQLiteStore) LoadConfig(ctx context.Context) (core.Config, time.Time, error) {
	var payload, fetchedAt string
	err := s.db.QueryRowContext(ctx, `SELECT payload, fetched_at FROM cached_config WHERE id = 1`).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Config{}, time.Time{}, ErrNotFound
	}
	if err != nil {
		return core.Config{}, time.Time{}, fmt.Errorf("load config: %w", err)
	}

	cfg, err := core.ParseConfig([]byte(payload))
	if err != nil {
		return core.Config{}, time.Time{}, fmt.Errorf("decode config: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return core.Config{}, time.Time{}, fmt.Errorf("decode fetched_at: %w", err)
	}
	return cfg, ts, nil
}

func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg core.Config, fetchedAt time.Time) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cached_config (id, payload, fetched_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at
	`, string(payload), fetchedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
