package ports

import "context"

// ProjectRepository is a scoped KV store with an optional CAS guard. The
// same namespace stores durable pipeline state, distributed lock records,
// and per-project blobs, distinguished by scope prefix at the call site.
type ProjectRepository interface {
	Find(ctx context.Context, scope ProjectRepositoryScope) (*Record, error)
	Save(ctx context.Context, record Record) error
	Remove(ctx context.Context, scope ProjectRepositoryScope) error
	// ListByScopePrefix returns every record whose scope matches the given
	// tenant, sorted by ProjectID ascending.
	ListByScopePrefix(ctx context.Context, tenantID string) ([]Record, error)
}

// CASProjectRepository is the optional compare-and-swap capability. A
// ProjectRepository implementation may additionally implement this
// interface; callers type-assert for it and fall back to an unconditional
// Save when absent (spec §9 open question: narrowed guarantee, documented
// rather than required).
type CASProjectRepository interface {
	// SaveIfRevision saves record only if the stored revision for its scope
	// equals expectedRevision (empty string means "no record exists yet").
	// Returns applied=false on a CAS mismatch without error.
	SaveIfRevision(ctx context.Context, record Record, expectedRevision string) (applied bool, err error)
}
