package testharness

import (
	"context"

	"github.com/ashfox/toolgate/internal/clockutil"
	"github.com/ashfox/toolgate/internal/ports"
)

// NoCASProjectRepository wraps ProjectRepository but deliberately does not
// implement ports.CASProjectRepository, exercising the narrowed-guarantee
// fallback path (spec §9 open question 2: unconditional save when the
// backing repository lacks CAS support).
type NoCASProjectRepository struct {
	inner *ProjectRepository
}

// NewNoCASProjectRepository builds a repository without CAS support.
func NewNoCASProjectRepository(clock clockutil.Clock) *NoCASProjectRepository {
	return &NoCASProjectRepository{inner: NewProjectRepository(clock)}
}

func (r *NoCASProjectRepository) Find(ctx context.Context, scope ports.ProjectRepositoryScope) (*ports.Record, error) {
	return r.inner.Find(ctx, scope)
}

func (r *NoCASProjectRepository) Save(ctx context.Context, record ports.Record) error {
	return r.inner.Save(ctx, record)
}

func (r *NoCASProjectRepository) Remove(ctx context.Context, scope ports.ProjectRepositoryScope) error {
	return r.inner.Remove(ctx, scope)
}

func (r *NoCASProjectRepository) ListByScopePrefix(ctx context.Context, tenantID string) ([]ports.Record, error) {
	return r.inner.ListByScopePrefix(ctx, tenantID)
}

var _ ports.ProjectRepository = (*NoCASProjectRepository)(nil)
