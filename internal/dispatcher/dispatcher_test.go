package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/ashfox/toolgate/internal/backend"
	"github.com/ashfox/toolgate/internal/clockutil"
	"github.com/ashfox/toolgate/internal/pipeline"
	"github.com/ashfox/toolgate/internal/policy"
	"github.com/ashfox/toolgate/internal/ports"
	"github.com/ashfox/toolgate/internal/projectlock"
	"github.com/ashfox/toolgate/internal/testharness"
)

type testRig struct {
	dispatcher *Dispatcher
	clock      *clockutil.Fake
	wsRepo     *testharness.WorkspaceRepository
	locks      *projectlock.Manager
	fakeBE     *testharness.FakeBackend
	store      *pipeline.Store
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	clock := clockutil.NewFake(time.Unix(0, 0))
	projectRepo := testharness.NewProjectRepository(clock)
	wsRepo := testharness.NewWorkspaceRepository()
	store := pipeline.New(projectRepo, clock, pipeline.WithSeeds(nil), pipeline.WithSleeper(func(time.Duration) {}))
	authz := policy.New(wsRepo, clock, 0)
	locks := projectlock.New(0, clock)
	fakeBE := testharness.NewFakeBackend("engine")
	registry := backend.NewRegistry(fakeBE)

	return &testRig{
		dispatcher: New(registry, locks, authz, store, "engine"),
		clock:      clock,
		wsRepo:     wsRepo,
		locks:      locks,
		fakeBE:     fakeBE,
		store:      store,
	}
}

func mustSeedWorkspace(t *testing.T, repo *testharness.WorkspaceRepository, workspaceID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := repo.CreateWorkspace(ctx, ports.Workspace{WorkspaceID: workspaceID, TenantID: "tenant-1", Name: workspaceID}); err != nil {
		t.Fatal(err)
	}
}

// S1 — lock conflict: a second session's mutating call is rejected while
// the first session's lock is still live.
func TestHandle_LockConflict(t *testing.T) {
	rig := newTestRig(t)
	mustSeedWorkspace(t, rig.wsRepo, "ws_admin")

	if _, err := rig.locks.AcquireProjectLock("ws_admin", "prj_lock_conflict", "mcp:session-holder", "session-holder"); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}

	resp := rig.dispatcher.Handle(context.Background(), "ensure_project",
		map[string]any{"projectId": "prj_lock_conflict", "name": "conflict-project", "onMissing": "create"},
		MCPContext{SessionID: "session-other", AccountID: "acct-other", WorkspaceID: "ws_admin", SystemRoles: map[string]bool{"system_admin": true}})

	if resp.OK {
		t.Fatalf("expected lock conflict to be rejected, got ok response: %+v", resp)
	}
	if resp.Error.Code != "invalid_state" || resp.Error.Details["reason"] != "project_locked" {
		t.Fatalf("want invalid_state/project_locked, got %+v", resp.Error)
	}
}

// S2 — idle takeover: once the holder's lease expires, a competing
// session's retry succeeds.
func TestHandle_IdleTakeover(t *testing.T) {
	rig := newTestRig(t)
	mustSeedWorkspace(t, rig.wsRepo, "ws_admin")

	if _, err := rig.locks.AcquireProjectLock("ws_admin", "prj_lock_conflict", "mcp:session-holder", "session-holder"); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	rig.clock.Advance(3 * time.Second) // past the 2s default idle TTL

	resp := rig.dispatcher.Handle(context.Background(), "ensure_project",
		map[string]any{"projectId": "prj_lock_conflict", "name": "conflict-project", "onMissing": "create"},
		MCPContext{SessionID: "session-other", AccountID: "acct-other", WorkspaceID: "ws_admin", SystemRoles: map[string]bool{"system_admin": true}})

	if !resp.OK {
		t.Fatalf("expected takeover to succeed, got %+v", resp.Error)
	}
	lock := rig.locks.GetProjectLock("ws_admin", "prj_lock_conflict")
	if lock == nil || lock.OwnerSessionID != "session-other" {
		t.Fatalf("expected session-other to be the new owner, got %+v", lock)
	}
}

// S3 — RBAC reader vs writer, exercised through ensure_project (a
// mutating tool, same authz path as add_bone).
func TestHandle_RBACReaderVsWriter(t *testing.T) {
	rig := newTestRig(t)
	const wsID = "ws_rbac"
	mustSeedWorkspace(t, rig.wsRepo, wsID)
	ctx := context.Background()

	reader := ports.Role{WorkspaceID: wsID, RoleID: "role_reader", Name: "reader", Permissions: map[string]bool{"folder.read": true}}
	writer := ports.Role{WorkspaceID: wsID, RoleID: "role_writer", Name: "writer", Permissions: map[string]bool{"folder.read": true, "folder.write": true}}
	if _, err := rig.wsRepo.CreateRole(ctx, reader); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.wsRepo.CreateRole(ctx, writer); err != nil {
		t.Fatal(err)
	}
	if err := rig.wsRepo.UpsertMember(ctx, ports.Member{WorkspaceID: wsID, AccountID: "acct-reader", RoleIDs: []string{"role_reader"}}); err != nil {
		t.Fatal(err)
	}
	if err := rig.wsRepo.UpsertMember(ctx, ports.Member{WorkspaceID: wsID, AccountID: "acct-writer", RoleIDs: []string{"role_writer"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.wsRepo.UpsertAclRule(ctx, ports.AclRule{
		WorkspaceID: wsID, FolderID: "", RoleIDs: []string{"role_writer"},
		Read: ports.EffectAllow, Write: ports.EffectAllow,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.wsRepo.UpsertAclRule(ctx, ports.AclRule{
		WorkspaceID: wsID, FolderID: "", RoleIDs: []string{"role_reader"},
		Read: ports.EffectAllow, Write: ports.EffectInherit,
	}); err != nil {
		t.Fatal(err)
	}

	readerResp := rig.dispatcher.Handle(ctx, "ensure_project", map[string]any{"projectId": "prj-rbac"},
		MCPContext{SessionID: "s-reader", AccountID: "acct-reader", WorkspaceID: wsID})
	if readerResp.OK {
		t.Fatalf("reader should be denied write, got %+v", readerResp)
	}
	if readerResp.Error.Details["reason"] != "forbidden_workspace_folder_write" {
		t.Fatalf("want forbidden_workspace_folder_write, got %+v", readerResp.Error)
	}

	writerResp := rig.dispatcher.Handle(ctx, "ensure_project", map[string]any{"projectId": "prj-rbac"},
		MCPContext{SessionID: "s-writer", AccountID: "acct-writer", WorkspaceID: wsID})
	if !writerResp.OK {
		t.Fatalf("writer should be allowed to write, got %+v", writerResp.Error)
	}
}

// Pre-dispatch validation: missing MCP account context.
func TestHandle_MissingMCPAccountContext(t *testing.T) {
	rig := newTestRig(t)
	resp := rig.dispatcher.Handle(context.Background(), "list_capabilities", nil, MCPContext{WorkspaceID: "ws1"})
	if resp.OK || resp.Error.Code != "invalid_state" || resp.Error.Details["reason"] != "missing_mcp_account_context" {
		t.Fatalf("want missing_mcp_account_context, got %+v", resp)
	}
}

// Pre-dispatch validation: payload.workspaceId mismatch.
func TestHandle_WorkspaceContextMismatch(t *testing.T) {
	rig := newTestRig(t)
	resp := rig.dispatcher.Handle(context.Background(), "list_capabilities",
		map[string]any{"workspaceId": "some-other-ws"},
		MCPContext{AccountID: "acct-1", WorkspaceID: "ws1"})
	if resp.OK || resp.Error.Code != "invalid_payload" || resp.Error.Details["reason"] != "mcp_workspace_context_mismatch" {
		t.Fatalf("want mcp_workspace_context_mismatch, got %+v", resp)
	}
}

// Unregistered backend.
func TestHandle_UnregisteredBackend(t *testing.T) {
	rig := newTestRig(t)
	resp := rig.dispatcher.Handle(context.Background(), "list_capabilities",
		map[string]any{"backend": "nonexistent"},
		MCPContext{AccountID: "acct-1", WorkspaceID: "ws1"})
	if resp.OK || resp.Error.Code != "invalid_state" {
		t.Fatalf("want invalid_state for unregistered backend, got %+v", resp)
	}
}

// projectId fallback chain resolves to default-project when nothing is
// supplied.
func TestHandle_ProjectIDDefaultsWhenAbsent(t *testing.T) {
	rig := newTestRig(t)
	resp := rig.dispatcher.Handle(context.Background(), "list_capabilities", map[string]any{},
		MCPContext{AccountID: "acct-1", WorkspaceID: "ws1"})
	if !resp.OK {
		t.Fatalf("list_capabilities should succeed, got %+v", resp.Error)
	}
}

// ifRevision mismatch on a mutating call surfaces the dedicated code.
func TestHandle_IfRevisionMismatch(t *testing.T) {
	rig := newTestRig(t)
	mustSeedWorkspace(t, rig.wsRepo, "ws1")
	ctx := context.Background()

	if _, err := rig.store.EnsureProject(ctx, "ws1", "prj-rev", nil); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	resp := rig.dispatcher.Handle(ctx, "ensure_project",
		map[string]any{"projectId": "prj-rev", "ifRevision": 99},
		MCPContext{AccountID: "acct-1", WorkspaceID: "ws1", SystemRoles: map[string]bool{"system_admin": true}})
	if resp.OK || resp.Error.Code != "invalid_state_revision_mismatch" {
		t.Fatalf("want invalid_state_revision_mismatch, got %+v", resp)
	}
}
