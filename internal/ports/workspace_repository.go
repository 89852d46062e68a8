package ports

import "context"

// WorkspaceRepository covers the workspace domain: accounts, workspaces,
// roles, members, folder ACL rules, API keys, and service settings. All
// list operations return defensively cloned records.
type WorkspaceRepository interface {
	// Accounts.
	CreateAccount(ctx context.Context, account Account) (Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	DeleteAccount(ctx context.Context, accountID string) error

	// Workspaces.
	CreateWorkspace(ctx context.Context, workspace Workspace) (Workspace, error)
	GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, error)
	UpdateWorkspace(ctx context.Context, workspace Workspace) error
	DeleteWorkspace(ctx context.Context, workspaceID string) error
	// ListWorkspaceIDs returns every known workspace id, ascending. Used by
	// the Worker's fan-out resolver to discover live workspaces without a
	// separately maintained index.
	ListWorkspaceIDs(ctx context.Context) ([]string, error)

	// Roles.
	CreateRole(ctx context.Context, role Role) (Role, error)
	ListRoles(ctx context.Context, workspaceID string) ([]Role, error)
	GetRole(ctx context.Context, workspaceID, roleID string) (*Role, error)
	UpdateRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, workspaceID, roleID string) error

	// Members.
	UpsertMember(ctx context.Context, member Member) error
	ListMembers(ctx context.Context, workspaceID string) ([]Member, error)
	GetMember(ctx context.Context, workspaceID, accountID string) (*Member, error)
	RemoveMember(ctx context.Context, workspaceID, accountID string) error

	// Folder ACL rules. RuleID is derived from a hash of
	// (folderId, read, write, locked) when not supplied.
	UpsertAclRule(ctx context.Context, rule AclRule) (AclRule, error)
	ListAclRules(ctx context.Context, workspaceID string) ([]AclRule, error)
	RemoveAclRule(ctx context.Context, workspaceID, ruleID string) error

	// Workspace API keys.
	CreateWorkspaceApiKey(ctx context.Context, key ApiKey) (ApiKey, error)
	ListWorkspaceApiKeys(ctx context.Context, workspaceID string) ([]ApiKey, error)
	RevokeWorkspaceApiKey(ctx context.Context, workspaceID, apiKeyID string) error
	FindWorkspaceApiKeyByHash(ctx context.Context, hash string) (*ApiKey, error)
	UpdateApiKeyLastUsed(ctx context.Context, apiKeyID string) error

	// Service (cross-workspace) API keys, same shape as workspace keys.
	CreateServiceApiKey(ctx context.Context, key ApiKey) (ApiKey, error)
	ListServiceApiKeys(ctx context.Context) ([]ApiKey, error)
	RevokeServiceApiKey(ctx context.Context, apiKeyID string) error
	FindServiceApiKeyByHash(ctx context.Context, hash string) (*ApiKey, error)

	// Service settings.
	GetServiceSettings(ctx context.Context, workspaceID string) (*ServiceSettings, error)
	UpsertServiceSettings(ctx context.Context, settings ServiceSettings) error
}
