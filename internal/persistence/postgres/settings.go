package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashfox/toolgate/internal/ports"
)

// Service settings get/upsert, grounded on the teacher's
// pkg/tenantconfig/{config,service}.go, narrowed to the gateway-relevant
// fields SPEC_FULL.md's supplement calls for (default codec, worker
// lease/backoff overrides).

func (r *WorkspaceRepository) GetServiceSettings(ctx context.Context, workspaceID string) (*ports.ServiceSettings, error) {
	const query = `SELECT workspace_id, default_codec_id, worker_lease_ms_override, worker_backoff_ms_override, updated_at
		FROM service_settings WHERE workspace_id = $1`
	var s ports.ServiceSettings
	err := r.pool.QueryRow(ctx, query, workspaceID).Scan(
		&s.WorkspaceID, &s.DefaultCodecID, &s.WorkerLeaseMsOverride, &s.WorkerBackoffMsOverride, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting service settings: %w", err)
	}
	return &s, nil
}

func (r *WorkspaceRepository) UpsertServiceSettings(ctx context.Context, settings ports.ServiceSettings) error {
	const query = `INSERT INTO service_settings (workspace_id, default_codec_id, worker_lease_ms_override, worker_backoff_ms_override, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (workspace_id) DO UPDATE
		SET default_codec_id = EXCLUDED.default_codec_id,
		    worker_lease_ms_override = EXCLUDED.worker_lease_ms_override,
		    worker_backoff_ms_override = EXCLUDED.worker_backoff_ms_override,
		    updated_at = now()`
	_, err := r.pool.Exec(ctx, query, settings.WorkspaceID, settings.DefaultCodecID, settings.WorkerLeaseMsOverride, settings.WorkerBackoffMsOverride)
	if err != nil {
		return fmt.Errorf("upserting service settings: %w", err)
	}
	return nil
}
