package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashfox/toolgate/internal/ports"
)

// Workspace and service API key CRUD, grounded on the teacher's
// pkg/apikey/{apikey,store,service}.go directly; key hashing itself
// (generation, SHA-256 hashing, prefix derivation) lives at the call site in
// internal/authctx since that's where a raw secret is ever seen.

const apiKeyColumns = `api_key_id, workspace_id, scope, name, prefix, key_hash, created_at, last_used_at, revoked_at`

func scanApiKey(row rowScanner) (ports.ApiKey, error) {
	var k ports.ApiKey
	err := row.Scan(&k.ApiKeyID, &k.WorkspaceID, &k.Scope, &k.Name, &k.Prefix, &k.Hash, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt)
	return k, err
}

func (r *WorkspaceRepository) CreateWorkspaceApiKey(ctx context.Context, key ports.ApiKey) (ports.ApiKey, error) {
	key.Scope = ports.ApiKeyScopeWorkspace
	return r.insertApiKey(ctx, key)
}

func (r *WorkspaceRepository) ListWorkspaceApiKeys(ctx context.Context, workspaceID string) ([]ports.ApiKey, error) {
	const query = `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE workspace_id = $1 AND scope = 'workspace' ORDER BY api_key_id ASC`
	return r.queryApiKeys(ctx, query, workspaceID)
}

func (r *WorkspaceRepository) RevokeWorkspaceApiKey(ctx context.Context, workspaceID, apiKeyID string) error {
	const query = `UPDATE api_keys SET revoked_at = now() WHERE api_key_id = $1 AND workspace_id = $2 AND scope = 'workspace'`
	_, err := r.pool.Exec(ctx, query, apiKeyID, workspaceID)
	if err != nil {
		return fmt.Errorf("revoking workspace api key: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) CreateServiceApiKey(ctx context.Context, key ports.ApiKey) (ports.ApiKey, error) {
	key.Scope = ports.ApiKeyScopeService
	key.WorkspaceID = ""
	return r.insertApiKey(ctx, key)
}

func (r *WorkspaceRepository) ListServiceApiKeys(ctx context.Context) ([]ports.ApiKey, error) {
	const query = `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE scope = 'service' ORDER BY api_key_id ASC`
	return r.queryApiKeys(ctx, query)
}

func (r *WorkspaceRepository) RevokeServiceApiKey(ctx context.Context, apiKeyID string) error {
	const query = `UPDATE api_keys SET revoked_at = now() WHERE api_key_id = $1 AND scope = 'service'`
	_, err := r.pool.Exec(ctx, query, apiKeyID)
	if err != nil {
		return fmt.Errorf("revoking service api key: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) FindWorkspaceApiKeyByHash(ctx context.Context, hash string) (*ports.ApiKey, error) {
	return r.findApiKeyByHash(ctx, hash, "workspace")
}

func (r *WorkspaceRepository) FindServiceApiKeyByHash(ctx context.Context, hash string) (*ports.ApiKey, error) {
	return r.findApiKeyByHash(ctx, hash, "service")
}

func (r *WorkspaceRepository) findApiKeyByHash(ctx context.Context, hash, scope string) (*ports.ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 AND scope = $2`
	k, err := scanApiKey(r.pool.QueryRow(ctx, query, hash, scope))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &k, nil
}

func (r *WorkspaceRepository) UpdateApiKeyLastUsed(ctx context.Context, apiKeyID string) error {
	const query = `UPDATE api_keys SET last_used_at = now() WHERE api_key_id = $1`
	_, err := r.pool.Exec(ctx, query, apiKeyID)
	if err != nil {
		return fmt.Errorf("updating api key last used: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) insertApiKey(ctx context.Context, key ports.ApiKey) (ports.ApiKey, error) {
	query := `INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7, $8)
		RETURNING ` + apiKeyColumns
	row := r.pool.QueryRow(ctx, query, key.ApiKeyID, key.WorkspaceID, key.Scope, key.Name, key.Prefix, key.Hash, key.LastUsedAt, key.RevokedAt)
	return scanApiKey(row)
}

func (r *WorkspaceRepository) queryApiKeys(ctx context.Context, query string, args ...any) ([]ports.ApiKey, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()
	var out []ports.ApiKey
	for rows.Next() {
		k, err := scanApiKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
