package workspaceadmin

import (
	"context"
	"errors"
	"testing"

	"github.com/ashfox/toolgate/internal/ports"
	"github.com/ashfox/toolgate/internal/testharness"
)

func newTestWorkspace(t *testing.T, ctx context.Context, svc *Service, repo *testharness.WorkspaceRepository) {
	t.Helper()
	if _, err := svc.CreateWorkspace(ctx, ports.Workspace{WorkspaceID: "ws1", Name: "Workspace One", CreatedBy: "acct-boot"}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if _, err := svc.CreateRole(ctx, ports.Role{WorkspaceID: "ws1", RoleID: "role_admin", Name: "Admin", Builtin: "workspace_admin"}); err != nil {
		t.Fatalf("CreateRole(admin): %v", err)
	}
	if _, err := svc.CreateRole(ctx, ports.Role{WorkspaceID: "ws1", RoleID: "role_member", Name: "Member"}); err != nil {
		t.Fatalf("CreateRole(member): %v", err)
	}
	if err := svc.UpsertMember(ctx, ports.Member{WorkspaceID: "ws1", AccountID: "acct-boot", RoleIDs: []string{"role_admin"}}); err != nil {
		t.Fatalf("UpsertMember(boot): %v", err)
	}
}

func TestDeleteRole_AdminRoleImmutable(t *testing.T) {
	ctx := context.Background()
	repo := testharness.NewWorkspaceRepository()
	svc := New(repo)
	newTestWorkspace(t, ctx, svc, repo)

	err := svc.DeleteRole(ctx, "ws1", "role_admin")
	if !errors.Is(err, ErrAdminRoleImmutable) {
		t.Fatalf("want ErrAdminRoleImmutable, got %v", err)
	}
}

func TestDeleteRole_DefaultMemberRoleInUse(t *testing.T) {
	ctx := context.Background()
	repo := testharness.NewWorkspaceRepository()
	svc := New(repo)
	newTestWorkspace(t, ctx, svc, repo)

	if err := svc.UpdateWorkspace(ctx, ports.Workspace{WorkspaceID: "ws1", Name: "Workspace One", CreatedBy: "acct-boot", DefaultMemberRoleID: "role_member"}); err != nil {
		t.Fatalf("UpdateWorkspace: %v", err)
	}

	err := svc.DeleteRole(ctx, "ws1", "role_member")
	if !errors.Is(err, ErrDefaultRoleInUse) {
		t.Fatalf("want ErrDefaultRoleInUse, got %v", err)
	}
}

func TestCreateRole_DuplicateName(t *testing.T) {
	ctx := context.Background()
	repo := testharness.NewWorkspaceRepository()
	svc := New(repo)
	newTestWorkspace(t, ctx, svc, repo)

	_, err := svc.CreateRole(ctx, ports.Role{WorkspaceID: "ws1", RoleID: "role_other", Name: "  member "})
	if !errors.Is(err, ErrDuplicateRoleName) {
		t.Fatalf("want ErrDuplicateRoleName for case/whitespace-insensitive collision, got %v", err)
	}
}

func TestCreateRole_DuplicateAdmin(t *testing.T) {
	ctx := context.Background()
	repo := testharness.NewWorkspaceRepository()
	svc := New(repo)
	newTestWorkspace(t, ctx, svc, repo)

	_, err := svc.CreateRole(ctx, ports.Role{WorkspaceID: "ws1", RoleID: "role_admin2", Name: "Second Admin", Builtin: "workspace_admin"})
	if !errors.Is(err, ErrDuplicateAdminRole) {
		t.Fatalf("want ErrDuplicateAdminRole, got %v", err)
	}
}

func TestUpsertMember_BootstrapAdminImmutable(t *testing.T) {
	ctx := context.Background()
	repo := testharness.NewWorkspaceRepository()
	svc := New(repo)
	newTestWorkspace(t, ctx, svc, repo)

	// Add a second admin so the "last admin" check alone would allow this.
	if err := svc.UpsertMember(ctx, ports.Member{WorkspaceID: "ws1", AccountID: "acct-other-admin", RoleIDs: []string{"role_admin"}}); err != nil {
		t.Fatalf("UpsertMember(other admin): %v", err)
	}

	err := svc.UpsertMember(ctx, ports.Member{WorkspaceID: "ws1", AccountID: "acct-boot", RoleIDs: []string{"role_member"}})
	if !errors.Is(err, ErrBootstrapAdminImmutable) {
		t.Fatalf("want ErrBootstrapAdminImmutable even with another admin present, got %v", err)
	}
}

func TestRemoveMember_BootstrapAdminGuard(t *testing.T) {
	ctx := context.Background()
	repo := testharness.NewWorkspaceRepository()
	svc := New(repo)
	newTestWorkspace(t, ctx, svc, repo)

	// acct-boot is the bootstrap admin; even with a second admin present,
	// removing acct-boot fails on the bootstrap-admin guard.
	if err := svc.UpsertMember(ctx, ports.Member{WorkspaceID: "ws1", AccountID: "acct-sole-admin", RoleIDs: []string{"role_admin"}}); err != nil {
		t.Fatalf("UpsertMember(sole admin): %v", err)
	}
	if err := svc.RemoveMember(ctx, "ws1", "acct-boot"); !errors.Is(err, ErrBootstrapAdminImmutable) {
		t.Fatalf("want ErrBootstrapAdminImmutable for removing the bootstrap admin, got %v", err)
	}

	// Removing the non-bootstrap admin succeeds, since acct-boot remains
	// an admin.
	if err := svc.RemoveMember(ctx, "ws1", "acct-sole-admin"); err != nil {
		t.Fatalf("RemoveMember(acct-sole-admin) should succeed with acct-boot still admin: %v", err)
	}
}

func TestUpdateWorkspace_DefaultRoleMustBeNonAdmin(t *testing.T) {
	ctx := context.Background()
	repo := testharness.NewWorkspaceRepository()
	svc := New(repo)
	newTestWorkspace(t, ctx, svc, repo)

	err := svc.UpdateWorkspace(ctx, ports.Workspace{WorkspaceID: "ws1", Name: "Workspace One", CreatedBy: "acct-boot", DefaultMemberRoleID: "role_admin"})
	if !errors.Is(err, ErrDefaultRoleIsAdmin) {
		t.Fatalf("want ErrDefaultRoleIsAdmin, got %v", err)
	}

	err = svc.UpdateWorkspace(ctx, ports.Workspace{WorkspaceID: "ws1", Name: "Workspace One", CreatedBy: "acct-boot", DefaultMemberRoleID: "role_missing"})
	if !errors.Is(err, ErrDefaultRoleNotFound) {
		t.Fatalf("want ErrDefaultRoleNotFound, got %v", err)
	}

	if err := svc.UpdateWorkspace(ctx, ports.Workspace{WorkspaceID: "ws1", Name: "Workspace One", CreatedBy: "acct-boot", DefaultMemberRoleID: "role_member"}); err != nil {
		t.Fatalf("UpdateWorkspace with valid default role should succeed: %v", err)
	}
}
