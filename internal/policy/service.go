package policy

import (
	"context"

	"github.com/ashfox/toolgate/internal/ports"
)

// ForbiddenReason is a machine-readable denial reason surfaced in
// ToolError.Details.reason by the Dispatcher.
type ForbiddenReason string

const (
	ReasonForbiddenWorkspace            ForbiddenReason = "forbidden_workspace"
	ReasonForbiddenWorkspaceProjectRead  ForbiddenReason = "forbidden_workspace_project_read"
	ReasonForbiddenWorkspaceProjectWrite ForbiddenReason = "forbidden_workspace_project_write"
	ReasonForbiddenWorkspaceFolderRead   ForbiddenReason = "forbidden_workspace_folder_read"
	ReasonForbiddenWorkspaceFolderWrite  ForbiddenReason = "forbidden_workspace_folder_write"
	ReasonWorkspaceNotFound              ForbiddenReason = "workspace_not_found"
)

// ForbiddenError is returned by the Authorize* operations on denial.
type ForbiddenError struct {
	Reason     ForbiddenReason
	Permission Permission
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + string(e.Reason)
}

// NotFoundError is returned when the workspace itself does not exist.
type NotFoundError struct{}

func (e *NotFoundError) Error() string { return "workspace not found" }

// ResolveRolePermissions returns the set of permissions an actor holds at
// workspace-root scope.
func (s *Service) ResolveRolePermissions(ctx context.Context, workspaceID, accountID string) (map[Permission]bool, error) {
	snap, err := s.load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, &NotFoundError{}
	}
	roleIDs := snap.rolesFor(accountID)
	perms := make(map[Permission]bool)
	if len(roleIDs) == 0 {
		return perms, nil
	}
	if snap.isWorkspaceAdmin(roleIDs) {
		perms[PermWorkspaceManage] = true
		perms[PermFolderRead] = true
		perms[PermFolderWrite] = true
		return perms, nil
	}
	channels := snap.resolveFolderPath(roleIDs, []string{""})
	if channels.read == ports.EffectAllow {
		perms[PermFolderRead] = true
	}
	if channels.write == ports.EffectAllow {
		perms[PermFolderWrite] = true
	}
	return perms, nil
}

// AuthorizeWorkspaceAccess checks whether actor holds permission at
// workspace scope (root folder).
func (s *Service) AuthorizeWorkspaceAccess(ctx context.Context, workspaceID string, actor Actor, permission Permission) (*WorkspaceOk, error) {
	snap, err := s.load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, &NotFoundError{}
	}
	if actor.IsSystemManager() {
		return &WorkspaceOk{Workspace: snap.workspace}, nil
	}

	roleIDs := snap.rolesFor(actor.AccountID)
	if len(roleIDs) == 0 {
		return nil, &ForbiddenError{Reason: ReasonForbiddenWorkspace, Permission: permission}
	}
	if permission == PermWorkspaceMember {
		return &WorkspaceOk{Workspace: snap.workspace}, nil
	}
	if snap.isWorkspaceAdmin(roleIDs) {
		return &WorkspaceOk{Workspace: snap.workspace}, nil
	}

	switch permission {
	case PermWorkspaceManage:
		return nil, &ForbiddenError{Reason: ReasonForbiddenWorkspace, Permission: permission}
	case PermFolderRead:
		channels := snap.resolveFolderPath(roleIDs, []string{""})
		if channels.read != ports.EffectAllow {
			return nil, &ForbiddenError{Reason: ReasonForbiddenWorkspaceFolderRead, Permission: permission}
		}
		return &WorkspaceOk{Workspace: snap.workspace}, nil
	case PermFolderWrite:
		channels := snap.resolveFolderPath(roleIDs, []string{""})
		if channels.write != ports.EffectAllow {
			return nil, &ForbiddenError{Reason: ReasonForbiddenWorkspaceFolderWrite, Permission: permission}
		}
		return &WorkspaceOk{Workspace: snap.workspace}, nil
	default:
		return nil, &ForbiddenError{Reason: ReasonForbiddenWorkspace, Permission: permission}
	}
}

// AuthorizeProjectWrite checks folder.write along the given folder path
// (root-to-target, as folder IDs; "" for root) for a project mutation.
func (s *Service) AuthorizeProjectWrite(ctx context.Context, workspaceID string, folderPath []string, projectID, tool string, actor Actor) error {
	return s.authorizeProjectAccess(ctx, workspaceID, folderPath, actor, true)
}

// AuthorizeProjectRead is the read-channel analogue of AuthorizeProjectWrite.
func (s *Service) AuthorizeProjectRead(ctx context.Context, workspaceID string, folderPath []string, projectID, tool string, actor Actor) error {
	return s.authorizeProjectAccess(ctx, workspaceID, folderPath, actor, false)
}

func (s *Service) authorizeProjectAccess(ctx context.Context, workspaceID string, folderPath []string, actor Actor, write bool) error {
	snap, err := s.load(ctx, workspaceID)
	if err != nil {
		return err
	}
	if snap == nil {
		return &ForbiddenError{Reason: ReasonWorkspaceNotFound}
	}
	if actor.IsSystemManager() {
		return nil
	}
	roleIDs := snap.rolesFor(actor.AccountID)
	if len(roleIDs) == 0 {
		return &ForbiddenError{Reason: ReasonForbiddenWorkspace}
	}
	if snap.isWorkspaceAdmin(roleIDs) {
		return nil
	}

	path := append([]string{""}, folderPath...)
	channels := snap.resolveFolderPath(roleIDs, path)
	if write {
		if channels.write != ports.EffectAllow {
			return &ForbiddenError{Reason: ReasonForbiddenWorkspaceFolderWrite}
		}
		return nil
	}
	if channels.read != ports.EffectAllow {
		return &ForbiddenError{Reason: ReasonForbiddenWorkspaceFolderRead}
	}
	return nil
}

// WorkspaceOk wraps a successful authorization with the resolved workspace.
type WorkspaceOk struct {
	Workspace ports.Workspace
}
