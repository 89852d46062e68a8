// Package workspaceadmin enforces the workspace-management invariants
// spec §3/§8 name (admin-role protection, default-role integrity, role
// name uniqueness) in front of a ports.WorkspaceRepository, which performs
// raw, unguarded CRUD. Grounded on the teacher's pkg/user/service.go shape:
// a thin service wrapping a store, translating store errors and invariant
// violations into typed errors callers can check with errors.Is.
package workspaceadmin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashfox/toolgate/internal/ports"
)

var (
	// ErrAdminRoleImmutable is returned when a caller attempts to delete
	// the workspace's built-in workspace_admin role (spec §3: "every
	// workspace has exactly one workspace_admin built-in role that cannot
	// be deleted").
	ErrAdminRoleImmutable = errors.New("workspaceadmin: the built-in workspace_admin role cannot be deleted")

	// ErrDuplicateAdminRole is returned when a caller attempts to create a
	// second built-in workspace_admin role in a workspace that already
	// has one.
	ErrDuplicateAdminRole = errors.New("workspaceadmin: workspace already has a built-in workspace_admin role")

	// ErrDuplicateRoleName is returned when a role name collides,
	// case-insensitively and whitespace-trimmed, with an existing role in
	// the same workspace.
	ErrDuplicateRoleName = errors.New("workspaceadmin: role name already exists in this workspace")

	// ErrLastAdmin is returned when a mutation would leave the workspace
	// with zero members holding a workspace_admin role.
	ErrLastAdmin = errors.New("workspaceadmin: at least one member must hold the workspace_admin role")

	// ErrBootstrapAdminImmutable is returned when a mutation would strip
	// workspace_admin from the workspace's own bootstrap admin (its
	// CreatedBy account), per spec §8: "the bootstrap admin's admin role
	// is immutable" — stricter than the last-admin check, since it holds
	// even when other admins exist.
	ErrBootstrapAdminImmutable = errors.New("workspaceadmin: the workspace's bootstrap admin cannot lose workspace_admin")

	// ErrDefaultRoleInUse is returned when a caller attempts to delete the
	// role currently set as the workspace's default member role.
	ErrDefaultRoleInUse = errors.New("workspaceadmin: the default member role cannot be deleted")

	// ErrDefaultRoleIsAdmin is returned when a workspace's
	// DefaultMemberRoleID is set to a built-in admin role.
	ErrDefaultRoleIsAdmin = errors.New("workspaceadmin: the default member role cannot be a built-in admin role")

	// ErrDefaultRoleNotFound is returned when a workspace's
	// DefaultMemberRoleID does not reference an existing role.
	ErrDefaultRoleNotFound = errors.New("workspaceadmin: defaultMemberRoleId must reference an existing role")
)

// Service decorates a ports.WorkspaceRepository, interposing the
// invariant checks above on role, member, and workspace mutation paths.
// Every other method passes straight through to the embedded repository,
// so *Service itself satisfies ports.WorkspaceRepository and is a
// drop-in replacement anywhere the raw repository is used.
type Service struct {
	ports.WorkspaceRepository
	repo ports.WorkspaceRepository
}

// New wraps repo with the guarded workspace-management path.
func New(repo ports.WorkspaceRepository) *Service {
	return &Service{WorkspaceRepository: repo, repo: repo}
}

// CreateWorkspace validates DefaultMemberRoleID (when set) before
// delegating.
func (s *Service) CreateWorkspace(ctx context.Context, workspace ports.Workspace) (ports.Workspace, error) {
	if err := s.validateDefaultMemberRole(ctx, workspace.WorkspaceID, workspace.DefaultMemberRoleID); err != nil {
		return ports.Workspace{}, err
	}
	return s.repo.CreateWorkspace(ctx, workspace)
}

// UpdateWorkspace validates DefaultMemberRoleID (when set) before
// delegating.
func (s *Service) UpdateWorkspace(ctx context.Context, workspace ports.Workspace) error {
	if err := s.validateDefaultMemberRole(ctx, workspace.WorkspaceID, workspace.DefaultMemberRoleID); err != nil {
		return err
	}
	return s.repo.UpdateWorkspace(ctx, workspace)
}

func (s *Service) validateDefaultMemberRole(ctx context.Context, workspaceID, roleID string) error {
	if roleID == "" {
		return nil
	}
	role, err := s.repo.GetRole(ctx, workspaceID, roleID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: getting default member role: %w", err)
	}
	if role == nil {
		return ErrDefaultRoleNotFound
	}
	if role.IsWorkspaceAdmin() {
		return ErrDefaultRoleIsAdmin
	}
	return nil
}

// CreateRole rejects a name that collides case-insensitively with an
// existing role in the workspace, and rejects a second built-in admin
// role.
func (s *Service) CreateRole(ctx context.Context, role ports.Role) (ports.Role, error) {
	existing, err := s.repo.ListRoles(ctx, role.WorkspaceID)
	if err != nil {
		return ports.Role{}, fmt.Errorf("workspaceadmin: listing roles: %w", err)
	}
	name := normalizeRoleName(role.Name)
	for _, r := range existing {
		if normalizeRoleName(r.Name) == name {
			return ports.Role{}, ErrDuplicateRoleName
		}
		if role.IsWorkspaceAdmin() && r.IsWorkspaceAdmin() {
			return ports.Role{}, ErrDuplicateAdminRole
		}
	}
	return s.repo.CreateRole(ctx, role)
}

// UpdateRole rejects a rename that collides case-insensitively with a
// different existing role in the workspace.
func (s *Service) UpdateRole(ctx context.Context, role ports.Role) error {
	existing, err := s.repo.ListRoles(ctx, role.WorkspaceID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: listing roles: %w", err)
	}
	name := normalizeRoleName(role.Name)
	for _, r := range existing {
		if r.RoleID == role.RoleID {
			continue
		}
		if normalizeRoleName(r.Name) == name {
			return ErrDuplicateRoleName
		}
	}
	return s.repo.UpdateRole(ctx, role)
}

// DeleteRole rejects deleting the built-in workspace_admin role or the
// workspace's current default member role.
func (s *Service) DeleteRole(ctx context.Context, workspaceID, roleID string) error {
	role, err := s.repo.GetRole(ctx, workspaceID, roleID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: getting role: %w", err)
	}
	if role == nil {
		return nil
	}
	if role.IsWorkspaceAdmin() {
		return ErrAdminRoleImmutable
	}

	workspace, err := s.repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: getting workspace: %w", err)
	}
	if workspace != nil && workspace.DefaultMemberRoleID == roleID {
		return ErrDefaultRoleInUse
	}

	return s.repo.DeleteRole(ctx, workspaceID, roleID)
}

// UpsertMember rejects a role change that would strip workspace_admin
// from the workspace's bootstrap admin, or leave zero members holding
// workspace_admin.
func (s *Service) UpsertMember(ctx context.Context, member ports.Member) error {
	workspace, err := s.repo.GetWorkspace(ctx, member.WorkspaceID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: getting workspace: %w", err)
	}
	roles, err := s.repo.ListRoles(ctx, member.WorkspaceID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: listing roles: %w", err)
	}
	adminRoleIDs := adminRoleSet(roles)

	existing, err := s.repo.GetMember(ctx, member.WorkspaceID, member.AccountID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: getting member: %w", err)
	}
	wasAdmin := existing != nil && intersects(existing.RoleIDs, adminRoleIDs)
	willBeAdmin := intersects(member.RoleIDs, adminRoleIDs)

	if wasAdmin && !willBeAdmin {
		if err := s.guardAdminRemoval(ctx, workspace, member.WorkspaceID, member.AccountID, adminRoleIDs); err != nil {
			return err
		}
	}

	return s.repo.UpsertMember(ctx, member)
}

// RemoveMember rejects removing a member who is the workspace's
// bootstrap admin or the last member holding workspace_admin.
func (s *Service) RemoveMember(ctx context.Context, workspaceID, accountID string) error {
	existing, err := s.repo.GetMember(ctx, workspaceID, accountID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: getting member: %w", err)
	}
	if existing == nil {
		return s.repo.RemoveMember(ctx, workspaceID, accountID)
	}

	workspace, err := s.repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: getting workspace: %w", err)
	}
	roles, err := s.repo.ListRoles(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: listing roles: %w", err)
	}
	adminRoleIDs := adminRoleSet(roles)

	if intersects(existing.RoleIDs, adminRoleIDs) {
		if err := s.guardAdminRemoval(ctx, workspace, workspaceID, accountID, adminRoleIDs); err != nil {
			return err
		}
	}

	return s.repo.RemoveMember(ctx, workspaceID, accountID)
}

// guardAdminRemoval rejects stripping workspace_admin from accountID
// when it is the workspace's bootstrap admin, or when no other member
// would hold workspace_admin afterward.
func (s *Service) guardAdminRemoval(ctx context.Context, workspace *ports.Workspace, workspaceID, accountID string, adminRoleIDs map[string]bool) error {
	if workspace != nil && workspace.CreatedBy == accountID {
		return ErrBootstrapAdminImmutable
	}

	members, err := s.repo.ListMembers(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("workspaceadmin: listing members: %w", err)
	}
	for _, m := range members {
		if m.AccountID == accountID {
			continue
		}
		if intersects(m.RoleIDs, adminRoleIDs) {
			return nil
		}
	}
	return ErrLastAdmin
}

func adminRoleSet(roles []ports.Role) map[string]bool {
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		if r.IsWorkspaceAdmin() {
			set[r.RoleID] = true
		}
	}
	return set
}

func intersects(roleIDs []string, set map[string]bool) bool {
	for _, id := range roleIDs {
		if set[id] {
			return true
		}
	}
	return false
}

func normalizeRoleName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
