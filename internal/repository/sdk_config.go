package repository

import (
	"context"
	"fmt"
)

// GetSDKConfig returns pgx.ErrNoRows (wrapped) when the project has no
// stored SDK config.
func (r *PostgresRepository) GetSDKConfig(ctx context.Context, projectID string) (SDKConfig, error) {
	var cfg SDKConfig
	err := r.pool.QueryRow(ctx, `
		SELECT project_id, refresh_interval_sec, base_server_url, updated_at
		FROM sdk_configs
		WHERE project_id = $1
	`, projectID).Scan(&cfg.ProjectID, &cfg.RefreshIntervalSec, &cfg.BaseServerURL, &cfg.UpdatedAt)
	if err != nil {
		return SDKConfig{}, fmt.Errorf("get sdk config: %w", err)
	}

	return cfg, nil
}

// PutSDKConfig inserts or replaces the project's SDK config.
func (r *PostgresRepository) PutSDKConfig(ctx context.Context, cfg SDKConfig) (SDKConfig, error) {
	var stored SDKConfig
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sdk_configs (project_id, refresh_interval_sec, base_server_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id) DO UPDATE
		SET refresh_interval_sec = EXCLUDED.refresh_interval_sec,
		    base_server_url = EXCLUDED.base_server_url,
		    updated_at = NOW()
		RETURNING project_id, refresh_interval_sec, base_server_url, updated_at
	`, cfg.ProjectID, cfg.RefreshIntervalSec, cfg.BaseServerURL).Scan(
		&stored.ProjectID,
		&stored.RefreshIntervalSec,
		&stored.BaseServerURL,
		&stored.UpdatedAt,
	)
	if err != nil {
		return SDKConfig{}, fmt.Errorf("put sdk config: %w", err)
	}

	return stored, nil
}

// ListSDKConfigs returns every stored SDK config.
func (r *PostgresRepository) ListSDKConfigs(ctx context.Context) ([]SDKConfig, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT project_id, refresh_interval_sec, base_server_url, updated_at
		FROM sdk_configs
		ORDER BY project_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list sdk configs: %w", err)
	}
	defer rows.Close()

	configs := make([]SDKConfig, 0)
	for rows.Next() {
		var cfg SDKConfig
		if err := rows.Scan(&cfg.ProjectID, &cfg.RefreshIntervalSec, &cfg.BaseServerURL, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sdk config: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sdk configs rows: %w", err)
	}

	return configs, nil
}
