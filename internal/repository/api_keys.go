package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyIDBytes     = 16
	keySecretBytes = 32
)

// ValidateAPIKey looks up a live key and returns its bcrypt hash and owning
// project. The secret comparison happens in the caller.
func (r *PostgresRepository) ValidateAPIKey(ctx context.Context, id string) (keyHash, projectID string, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT key_hash, project_id FROM api_keys WHERE id = $1 AND revoked_at IS NULL`,
		id,
	).Scan(&keyHash, &projectID)
	if err != nil {
		return "", "", fmt.Errorf("validate api key: %w", err)
	}
	return keyHash, projectID, nil
}

// CreateAPIKey mints a key for projectID. Only the bcrypt hash of the secret
// is stored, so the returned secret cannot be recovered later.
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, projectID, name string) (keyID, secret string, err error) {
	if keyID, err = generateRandomHex(keyIDBytes); err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}
	if secret, err = generateRandomHex(keySecretBytes); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}
	if name == "" {
		name = "sdk-" + keyID[:8]
	}

	if _, err := r.pool.Exec(ctx,
		`INSERT INTO api_keys (id, project_id, name, key_hash) VALUES ($1, $2, $3, $4)`,
		keyID, projectID, name, string(hash),
	); err != nil {
		return "", "", fmt.Errorf("create api key for project %s: %w", projectID, err)
	}
	return keyID, secret, nil
}

// ListAPIKeys returns live keys oldest first, without secrets.
func (r *PostgresRepository) ListAPIKeys(ctx context.Context, projectID string) ([]APIKeyMeta, error) {
	rows, _ := r.pool.Query(ctx, `
		SELECT id, project_id, name, created_at
		FROM api_keys
		WHERE project_id = $1 AND revoked_at IS NULL
		ORDER BY created_at, id
	`, projectID)
	keys, err := pgx.CollectRows(rows, pgx.RowToStructByName[APIKeyMeta])
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey stamps revoked_at. Unknown, foreign and already revoked keys
// all wrap pgx.ErrNoRows.
func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, projectID, keyID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND project_id = $2 AND revoked_at IS NULL`,
		keyID, projectID,
	)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return noRowsAffected("revoke api key", tag)
}
