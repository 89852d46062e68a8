package policy

import (
	"context"
	"testing"
	"time"

	"github.com/ashfox/toolgate/internal/clockutil"
	"github.com/ashfox/toolgate/internal/ports"
	"github.com/ashfox/toolgate/internal/testharness"
)

func newTestService(t *testing.T) (*Service, *testharness.WorkspaceRepository, *clockutil.Fake) {
	t.Helper()
	clock := clockutil.NewFake(time.Unix(0, 0))
	repo := testharness.NewWorkspaceRepository()
	return New(repo, clock, time.Second), repo, clock
}

// S3 — RBAC reader vs writer.
func TestAuthorizeProjectWrite_ReaderVsWriter(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)

	const wsID = "ws_rbac"
	mustSeedWorkspace(t, repo, wsID)

	reader := ports.Role{WorkspaceID: wsID, RoleID: "role_reader", Name: "reader", Permissions: map[string]bool{"folder.read": true}}
	writer := ports.Role{WorkspaceID: wsID, RoleID: "role_writer", Name: "writer", Permissions: map[string]bool{"folder.read": true, "folder.write": true}}
	if _, err := repo.CreateRole(ctx, reader); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.CreateRole(ctx, writer); err != nil {
		t.Fatal(err)
	}

	if err := repo.UpsertMember(ctx, ports.Member{WorkspaceID: wsID, AccountID: "acct-reader", RoleIDs: []string{"role_reader"}}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertMember(ctx, ports.Member{WorkspaceID: wsID, AccountID: "acct-writer", RoleIDs: []string{"role_writer"}}); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.UpsertAclRule(ctx, ports.AclRule{
		WorkspaceID: wsID, FolderID: "", RoleIDs: []string{"role_writer"},
		Read: ports.EffectAllow, Write: ports.EffectAllow,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UpsertAclRule(ctx, ports.AclRule{
		WorkspaceID: wsID, FolderID: "", RoleIDs: []string{"role_reader"},
		Read: ports.EffectAllow, Write: ports.EffectInherit,
	}); err != nil {
		t.Fatal(err)
	}

	readerActor := Actor{AccountID: "acct-reader"}
	writerActor := Actor{AccountID: "acct-writer"}

	err := svc.AuthorizeProjectWrite(ctx, wsID, nil, "prj", "add_bone", readerActor)
	var fe *ForbiddenError
	if err == nil {
		t.Fatalf("expected reader write to be forbidden")
	}
	if !errorsAsForbidden(err, &fe) || fe.Reason != ReasonForbiddenWorkspaceFolderWrite {
		t.Fatalf("want forbidden_workspace_folder_write reason, got %v", err)
	}

	if err := svc.AuthorizeProjectWrite(ctx, wsID, nil, "prj", "add_bone", writerActor); err != nil {
		t.Fatalf("writer should be allowed to write, got %v", err)
	}
}

// S4 — deeper-allow restore across unioned roles and nested folders.
func TestAuthorizeProjectWrite_DeeperAllowRestores(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)

	const wsID = "ws_acl"
	mustSeedWorkspace(t, repo, wsID)

	userRole := ports.Role{WorkspaceID: wsID, RoleID: "role_user", Name: "user"}
	overrideRole := ports.Role{WorkspaceID: wsID, RoleID: "role_allow_override", Name: "override"}
	if _, err := repo.CreateRole(ctx, userRole); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.CreateRole(ctx, overrideRole); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertMember(ctx, ports.Member{WorkspaceID: wsID, AccountID: "acct-user", RoleIDs: []string{"role_user"}}); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.UpsertAclRule(ctx, ports.AclRule{
		WorkspaceID: wsID, FolderID: "restrictedChild", RoleIDs: []string{"role_user"},
		Read: ports.EffectAllow, Write: ports.EffectDeny,
	}); err != nil {
		t.Fatal(err)
	}

	blockedActor := Actor{AccountID: "acct-user"}
	if err := svc.AuthorizeProjectWrite(ctx, wsID, []string{"restrictedChild"}, "acl-blocked", "ensure_project", blockedActor); err == nil {
		t.Fatalf("expected write denied at restrictedChild")
	}

	// Grant the override role, unioned across the same account's roles.
	if err := repo.UpsertMember(ctx, ports.Member{WorkspaceID: wsID, AccountID: "acct-user", RoleIDs: []string{"role_user", "role_allow_override"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UpsertAclRule(ctx, ports.AclRule{
		WorkspaceID: wsID, FolderID: "restrictedChild", RoleIDs: []string{"role_allow_override"},
		Read: ports.EffectAllow, Write: ports.EffectAllow,
	}); err != nil {
		t.Fatal(err)
	}
	svc.InvalidateWorkspace(wsID)

	overrideActor := Actor{AccountID: "acct-user"}
	if err := svc.AuthorizeProjectWrite(ctx, wsID, []string{"restrictedChild"}, "acl-blocked", "ensure_project", overrideActor); err != nil {
		t.Fatalf("union of roles should restore write access, got %v", err)
	}

	// A deeper explicit allow for a plain role_user (no override) also restores access.
	if _, err := repo.UpsertAclRule(ctx, ports.AclRule{
		WorkspaceID: wsID, FolderID: "restoredChild", RoleIDs: []string{"role_user"},
		Read: ports.EffectAllow, Write: ports.EffectAllow,
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertMember(ctx, ports.Member{WorkspaceID: wsID, AccountID: "acct-plain", RoleIDs: []string{"role_user"}}); err != nil {
		t.Fatal(err)
	}
	svc.InvalidateWorkspace(wsID)

	plainActor := Actor{AccountID: "acct-plain"}
	if err := svc.AuthorizeProjectWrite(ctx, wsID, []string{"restrictedChild", "restoredChild"}, "acl-blocked", "ensure_project", plainActor); err != nil {
		t.Fatalf("deeper allow should restore write access even without override role, got %v", err)
	}
}

func mustSeedWorkspace(t *testing.T, repo *testharness.WorkspaceRepository, workspaceID string) {
	t.Helper()
	if _, err := repo.CreateWorkspace(context.Background(), ports.Workspace{WorkspaceID: workspaceID, TenantID: "tenant-1", Name: workspaceID}); err != nil {
		t.Fatal(err)
	}
}

func errorsAsForbidden(err error, target **ForbiddenError) bool {
	fe, ok := err.(*ForbiddenError)
	if !ok {
		return false
	}
	*target = fe
	return true
}
