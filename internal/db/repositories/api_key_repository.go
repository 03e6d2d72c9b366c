// api_key_repository.go implements APIKeyRepository for long-lived bearer credentials.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/models"
)

// APIKeyRepository handles database operations for API keys
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// CreateAPIKey inserts a new API key record
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO api_keys (user_id, name, key_prefix, key_hash, scopes, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		key.UserID, key.Name, key.KeyPrefix, key.KeyHash, key.Scopes, key.ExpiresAt, key.IsActive,
	).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetAPIKeysByPrefix returns active keys matching a display prefix. The
// bcrypt comparison against each candidate happens in the auth middleware.
func (r *APIKeyRepository) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	keys := []*models.APIKey{}
	err := r.db.SelectContext(ctx, &keys,
		`SELECT * FROM api_keys WHERE key_prefix = $1 AND is_active`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get api keys by prefix: %w", err)
	}
	return keys, nil
}

// ListAPIKeysForUser returns a user's keys, newest first
func (r *APIKeyRepository) ListAPIKeysForUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	keys := []*models.APIKey{}
	err := r.db.SelectContext(ctx, &keys,
		`SELECT * FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// UpdateLastUsed stamps the key's last_used_at. Called asynchronously from
// the auth middleware, so failures are tolerated by the caller.
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update api key last used: %w", err)
	}
	return nil
}

// RevokeAPIKey deactivates a key belonging to the given user
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, id, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("api key not found")
	}
	return nil
}
