package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ashfox/toolgate/internal/ports"
)

// ErrLockAcquireTimeout is returned when the distributed lock could not be
// taken within the configured timeout.
var ErrLockAcquireTimeout = errors.New("lock_acquire_timeout")

const (
	defaultLockRetryInterval = 30 * time.Millisecond
	defaultLockTimeout       = 10 * time.Second
	lockLeaseDuration        = 5 * time.Second
)

type lockRecordBody struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func lockScope(workspaceID string) ports.ProjectRepositoryScope {
	return ports.ProjectRepositoryScope{TenantID: workspaceID, ProjectID: "__pipeline_lock__"}
}

// acquireDistributedLock takes the pipeline distributed lock for
// workspaceID by compare-and-swap, retrying every retryInterval until
// timeout elapses (spec §4.2 step 1). Returns an opaque owner token used
// to release.
func (s *Store) acquireDistributedLock(ctx context.Context, workspaceID string) (string, error) {
	scope := lockScope(workspaceID)
	owner := uuid.NewString()
	deadline := s.clock.Now().Add(s.lockTimeout)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		existing, err := s.repo.Find(ctx, scope)
		if err != nil {
			return "", err
		}

		now := s.clock.Now()
		expectedRevision := ""
		if existing != nil {
			expectedRevision = existing.Revision
			var body lockRecordBody
			if jsonErr := json.Unmarshal(existing.State, &body); jsonErr == nil && body.ExpiresAt.After(now) {
				// Active lock held by someone else; fall through to retry wait.
				if s.clock.Now().After(deadline) {
					return "", ErrLockAcquireTimeout
				}
				s.sleep(s.lockRetryInterval)
				continue
			}
		}

		body := lockRecordBody{Owner: owner, ExpiresAt: now.Add(lockLeaseDuration)}
		raw, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		newRecord := ports.Record{Scope: scope, Revision: contentHashRevision(raw), State: raw}

		applied, err := s.saveWithCAS(ctx, newRecord, expectedRevision)
		if err != nil {
			return "", err
		}
		if applied {
			return owner, nil
		}

		if s.clock.Now().After(deadline) {
			return "", ErrLockAcquireTimeout
		}
		s.sleep(s.lockRetryInterval)
	}
}

// releaseDistributedLock best-effort removes the lock record. Failure to
// release is tolerated: the lease will expire on its own.
func (s *Store) releaseDistributedLock(ctx context.Context, workspaceID string) {
	_ = s.repo.Remove(ctx, lockScope(workspaceID))
}

// saveWithCAS uses the repository's CAS capability when present, falling
// back to an unconditional Save otherwise (spec §9 open question 2: the
// narrowed-guarantee fallback for repositories without SaveIfRevision
// support).
func (s *Store) saveWithCAS(ctx context.Context, record ports.Record, expectedRevision string) (bool, error) {
	if cas, ok := s.repo.(ports.CASProjectRepository); ok {
		return cas.SaveIfRevision(ctx, record, expectedRevision)
	}
	if err := s.repo.Save(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}
