// Package projectlock implements the in-process exclusive-writer table
// described in spec §4.1 (component C2): per-project leases identified by
// an (agentId, sessionId) pair, with idle expiry, takeover, and reentry.
package projectlock

import (
	"sync"
	"time"

	"github.com/ashfox/toolgate/internal/clockutil"
)

// Lock is an active project lease.
type Lock struct {
	ProjectID      string
	WorkspaceID    string
	OwnerAgentID   string
	OwnerSessionID string
	AcquiredAt     time.Time
	ExpiresAt      time.Time
}

func (l Lock) ownedBy(agentID, sessionID string) bool {
	return l.OwnerAgentID == agentID && l.OwnerSessionID == sessionID
}

// HeldError reports that an active lock is held by a different owner.
type HeldError struct {
	CurrentOwner Lock
}

func (e *HeldError) Error() string {
	return "project lock held by another owner"
}

type key struct {
	workspaceID string
	projectID   string
}

// Manager is the per-process lock table. Zero value is not usable; build
// with New.
type Manager struct {
	mu        sync.Mutex
	locks     map[key]Lock
	idleTTL   time.Duration
	clock     clockutil.Clock
	misuseCnt int
}

const defaultIdleTTL = 2000 * time.Millisecond

// New builds a Manager with the given idle TTL (0 selects the spec
// default of 2000ms) and clock.
func New(idleTTL time.Duration, clock clockutil.Clock) *Manager {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Manager{
		locks: make(map[key]Lock),
		idleTTL: idleTTL,
		clock: clock,
	}
}

func (m *Manager) pruneExpiredLocked(now time.Time) {
	for k, l := range m.locks {
		if !l.ExpiresAt.After(now) {
			delete(m.locks, k)
		}
	}
}

// AcquireProjectLock succeeds if no active lock exists, an existing lock
// has expired (takeover), or the existing lock is already held by the same
// (agentId, sessionId) pair (reentry: refreshes expiresAt). Otherwise it
// returns a *HeldError naming the current owner.
func (m *Manager) AcquireProjectLock(workspaceID, projectID, ownerAgentID, ownerSessionID string) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.pruneExpiredLocked(now)

	k := key{workspaceID: workspaceID, projectID: projectID}
	if existing, ok := m.locks[k]; ok && !existing.ownedBy(ownerAgentID, ownerSessionID) {
		return Lock{}, &HeldError{CurrentOwner: existing}
	}

	lock := Lock{
		ProjectID:      projectID,
		WorkspaceID:    workspaceID,
		OwnerAgentID:   ownerAgentID,
		OwnerSessionID: ownerSessionID,
		AcquiredAt:     now,
		ExpiresAt:      now.Add(m.idleTTL),
	}
	m.locks[k] = lock
	return lock, nil
}

// ReleaseProjectLock releases the lock iff the caller is the current
// owner. A non-owner release is a silent no-op that increments an internal
// misuse counter so tests can observe it (spec §9 open question).
func (m *Manager) ReleaseProjectLock(workspaceID, projectID, ownerAgentID, ownerSessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.pruneExpiredLocked(now)

	k := key{workspaceID: workspaceID, projectID: projectID}
	existing, ok := m.locks[k]
	if !ok {
		return
	}
	if !existing.ownedBy(ownerAgentID, ownerSessionID) {
		m.misuseCnt++
		return
	}
	delete(m.locks, k)
}

// GetProjectLock returns the active lock for (workspaceId, projectId), or
// nil if none is active.
func (m *Manager) GetProjectLock(workspaceID, projectID string) *Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.pruneExpiredLocked(now)

	k := key{workspaceID: workspaceID, projectID: projectID}
	l, ok := m.locks[k]
	if !ok {
		return nil
	}
	return &l
}

// ReleaseMisuseCount reports how many ReleaseProjectLock calls were made by
// a non-owner. Exposed for tests.
func (m *Manager) ReleaseMisuseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.misuseCnt
}
