package pipeline

import (
	"context"
	"time"

	"github.com/ashfox/toolgate/internal/clockutil"
	"github.com/ashfox/toolgate/internal/ports"
)

func stateScope(workspaceID string) ports.ProjectRepositoryScope {
	return ports.ProjectRepositoryScope{TenantID: workspaceID, ProjectID: "__pipeline_state__"}
}

// Store is the Native Pipeline Store (spec component C3). It is
// storage-agnostic over ports.ProjectRepository; construct one per
// process and share it between the Dispatcher and the Worker.
type Store struct {
	repo  ports.ProjectRepository
	clock clockutil.Clock
	sleep func(time.Duration)

	lockRetryInterval time.Duration
	lockTimeout       time.Duration

	seeds []BuiltinProject
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLockTiming overrides the distributed lock's retry interval and
// overall acquisition timeout (spec defaults: ~30ms / 10s).
func WithLockTiming(retryInterval, timeout time.Duration) Option {
	return func(s *Store) {
		if retryInterval > 0 {
			s.lockRetryInterval = retryInterval
		}
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

// WithSleeper overrides the function used to wait between lock retries.
// Tests that exercise the timeout path can inject a no-op sleeper paired
// with a fake clock that jumps past the deadline.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(s *Store) { s.sleep = sleep }
}

// WithSeeds overrides the built-in sample projects used to seed a fresh
// workspace (spec §4.2 "state seeding").
func WithSeeds(seeds []BuiltinProject) Option {
	return func(s *Store) { s.seeds = seeds }
}

// New builds a Store backed by repo.
func New(repo ports.ProjectRepository, clock clockutil.Clock, opts ...Option) *Store {
	s := &Store{
		repo:              repo,
		clock:             clock,
		sleep:             time.Sleep,
		lockRetryInterval: defaultLockRetryInterval,
		lockTimeout:       defaultLockTimeout,
		seeds:             defaultBuiltinProjects(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withState runs mutate against the hydrated state for workspaceID under
// the distributed lock, then persists the result with CAS on the
// previous revision (spec §4.2 steps 1-6). mutate edits the state in
// place and returns a flag reporting whether anything actually changed;
// when nothing changed, the save step is skipped.
func (s *Store) withState(ctx context.Context, workspaceID string, mutate func(*pipelineState) (bool, error)) error {
	owner, err := s.acquireDistributedLock(ctx, workspaceID)
	if err != nil {
		return err
	}
	defer s.releaseDistributedLock(ctx, workspaceID)
	_ = owner

	scope := stateScope(workspaceID)
	record, err := s.repo.Find(ctx, scope)
	if err != nil {
		return err
	}

	var st *pipelineState
	previousRevision := ""
	if record == nil {
		st = newEmptyState()
		if seeded := s.seedBuiltins(st); seeded {
			if err := s.saveState(ctx, scope, st, ""); err != nil {
				return err
			}
			record, err = s.repo.Find(ctx, scope)
			if err != nil {
				return err
			}
		}
	}
	if record != nil {
		st, err = decodeState(record.State)
		if err != nil {
			return err
		}
		previousRevision = record.Revision
	}

	changed, err := mutate(st)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	return s.saveState(ctx, scope, st, previousRevision)
}

// saveState serializes st, recomputes its content-hash revision, and
// saves with CAS on previousRevision (spec §4.2 steps 4-5). A CAS
// mismatch is surfaced as ErrStateConflict.
func (s *Store) saveState(ctx context.Context, scope ports.ProjectRepositoryScope, st *pipelineState, previousRevision string) error {
	raw, err := encodeState(st)
	if err != nil {
		return err
	}
	record := ports.Record{Scope: scope, Revision: contentHashRevision(raw), State: raw}
	applied, err := s.saveWithCAS(ctx, record, previousRevision)
	if err != nil {
		return err
	}
	if !applied {
		return ErrStateConflict
	}
	return nil
}

// readState loads and decodes the current state without taking the
// distributed lock (readers may read without it, per spec §5).
func (s *Store) readState(ctx context.Context, workspaceID string) (*pipelineState, error) {
	record, err := s.repo.Find(ctx, stateScope(workspaceID))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return newEmptyState(), nil
	}
	return decodeState(record.State)
}

// appendProjectEvent appends a project_snapshot event for projectId with
// the next sequence number, then compacts to the most recent 200 entries
// (spec §9 open question 3: bounded retention).
const projectEventRetention = 200

func appendProjectEvent(st *pipelineState, projectID string, snapshot ProjectSnapshot) {
	seq := st.NextSeq
	st.NextSeq++
	events := append(st.ProjectEvents[projectID], ProjectEvent{Seq: seq, Event: "project_snapshot", Data: snapshot})
	if len(events) > projectEventRetention {
		events = events[len(events)-projectEventRetention:]
	}
	st.ProjectEvents[projectID] = events
}
