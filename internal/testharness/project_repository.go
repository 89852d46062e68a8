package testharness

import (
	"context"
	"sort"
	"sync"

	"github.com/ashfox/toolgate/internal/clockutil"
	"github.com/ashfox/toolgate/internal/ports"
)

// ProjectRepository is an in-memory ports.ProjectRepository that also
// implements ports.CASProjectRepository.
type ProjectRepository struct {
	mu      sync.Mutex
	clock   clockutil.Clock
	records map[ports.ProjectRepositoryScope]ports.Record
}

// NewProjectRepository builds an empty in-memory repository.
func NewProjectRepository(clock clockutil.Clock) *ProjectRepository {
	return &ProjectRepository{
		clock:   clock,
		records: make(map[ports.ProjectRepositoryScope]ports.Record),
	}
}

func (r *ProjectRepository) Find(_ context.Context, scope ports.ProjectRepositoryScope) (*ports.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[scope]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (r *ProjectRepository) Save(_ context.Context, record ports.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(record)
	return nil
}

func (r *ProjectRepository) SaveIfRevision(_ context.Context, record ports.Record, expectedRevision string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[record.Scope]
	currentRevision := ""
	if ok {
		currentRevision = existing.Revision
	}
	if currentRevision != expectedRevision {
		return false, nil
	}
	r.put(record)
	return true, nil
}

func (r *ProjectRepository) put(record ports.Record) {
	now := r.clock.Now()
	if record.CreatedAt.IsZero() {
		if existing, ok := r.records[record.Scope]; ok {
			record.CreatedAt = existing.CreatedAt
		} else {
			record.CreatedAt = now
		}
	}
	record.UpdatedAt = now
	r.records[record.Scope] = cloneRecord(record)
}

func (r *ProjectRepository) Remove(_ context.Context, scope ports.ProjectRepositoryScope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, scope)
	return nil
}

func (r *ProjectRepository) ListByScopePrefix(_ context.Context, tenantID string) ([]ports.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ports.Record
	for scope, rec := range r.records {
		if scope.TenantID == tenantID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope.ProjectID < out[j].Scope.ProjectID })
	return out, nil
}

func cloneRecord(rec ports.Record) ports.Record {
	state := make([]byte, len(rec.State))
	copy(state, rec.State)
	rec.State = state
	return rec
}

var (
	_ ports.ProjectRepository    = (*ProjectRepository)(nil)
	_ ports.CASProjectRepository = (*ProjectRepository)(nil)
)
