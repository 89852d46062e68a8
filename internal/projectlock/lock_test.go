package projectlock

import (
	"errors"
	"testing"
	"time"

	"github.com/ashfox/toolgate/internal/clockutil"
)

func TestAcquireProjectLock_ConflictThenTakeover(t *testing.T) {
	clock := clockutil.NewFake(time.Unix(0, 0))
	mgr := New(2000*time.Millisecond, clock)

	// S1 — lock conflict.
	if _, err := mgr.AcquireProjectLock("ws_admin", "prj_lock_conflict", "mcp:session-holder", "session-holder"); err != nil {
		t.Fatalf("first acquire: unexpected error %v", err)
	}
	_, err := mgr.AcquireProjectLock("ws_admin", "prj_lock_conflict", "mcp:session-other", "session-other")
	var heldErr *HeldError
	if !errors.As(err, &heldErr) {
		t.Fatalf("second acquire: want HeldError, got %v", err)
	}
	if heldErr.CurrentOwner.OwnerSessionID != "session-holder" {
		t.Fatalf("unexpected current owner %+v", heldErr.CurrentOwner)
	}

	// S2 — idle takeover once the holder's lease expires.
	clock.Advance(2001 * time.Millisecond)
	lock, err := mgr.AcquireProjectLock("ws_admin", "prj_lock_conflict", "mcp:session-other", "session-other")
	if err != nil {
		t.Fatalf("takeover acquire: unexpected error %v", err)
	}
	if lock.OwnerSessionID != "session-other" {
		t.Fatalf("takeover did not transfer ownership: %+v", lock)
	}
}

func TestAcquireProjectLock_Reentry(t *testing.T) {
	clock := clockutil.NewFake(time.Unix(0, 0))
	mgr := New(2000*time.Millisecond, clock)

	first, err := mgr.AcquireProjectLock("ws", "prj", "agent", "session")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	clock.Advance(500 * time.Millisecond)
	second, err := mgr.AcquireProjectLock("ws", "prj", "agent", "session")
	if err != nil {
		t.Fatalf("reentry should succeed, got %v", err)
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Fatalf("reentry should refresh expiresAt: first=%v second=%v", first.ExpiresAt, second.ExpiresAt)
	}
}

func TestReleaseProjectLock_NonOwnerIsSilentNoOp(t *testing.T) {
	clock := clockutil.NewFake(time.Unix(0, 0))
	mgr := New(2000*time.Millisecond, clock)

	if _, err := mgr.AcquireProjectLock("ws", "prj", "agent-a", "session-a"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	mgr.ReleaseProjectLock("ws", "prj", "agent-b", "session-b")
	if got := mgr.ReleaseMisuseCount(); got != 1 {
		t.Fatalf("want misuse count 1, got %d", got)
	}
	if lock := mgr.GetProjectLock("ws", "prj"); lock == nil || lock.OwnerSessionID != "session-a" {
		t.Fatalf("lock should remain held by the original owner, got %+v", lock)
	}
}

func TestReleaseThenAcquire(t *testing.T) {
	clock := clockutil.NewFake(time.Unix(0, 0))
	mgr := New(2000*time.Millisecond, clock)

	if _, err := mgr.AcquireProjectLock("ws", "prj", "agent-a", "session-a"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	mgr.ReleaseProjectLock("ws", "prj", "agent-a", "session-a")
	if lock := mgr.GetProjectLock("ws", "prj"); lock != nil {
		t.Fatalf("expected no active lock after release, got %+v", lock)
	}
	if _, err := mgr.AcquireProjectLock("ws", "prj", "agent-b", "session-b"); err != nil {
		t.Fatalf("acquire after release: unexpected error %v", err)
	}
}
