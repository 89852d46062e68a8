package ports

import "time"

// Account is a principal that can hold workspace memberships.
type Account struct {
	AccountID string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Workspace is a tenancy boundary grouping projects, roles, members, and
// ACL rules.
type Workspace struct {
	WorkspaceID         string
	TenantID            string
	Name                string
	DefaultMemberRoleID string
	CreatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Role is a named permission set within a workspace. Exactly one built-in
// workspace_admin role exists per workspace and cannot be deleted.
type Role struct {
	WorkspaceID string
	RoleID      string
	Name        string
	Builtin     string // "" or "workspace_admin"
	Permissions map[string]bool
}

// IsWorkspaceAdmin reports whether this role is the built-in admin role.
func (r Role) IsWorkspaceAdmin() bool { return r.Builtin == "workspace_admin" }

// Member links an account to zero or more roles within a workspace.
type Member struct {
	WorkspaceID string
	AccountID   string
	RoleIDs     []string
}

// AclEffect is the tristate permission value for a folder ACL channel.
type AclEffect string

const (
	EffectAllow   AclEffect = "allow"
	EffectDeny    AclEffect = "deny"
	EffectInherit AclEffect = "inherit"
)

// AclRule grants or denies read/write on a folder to a set of roles.
// FolderID of "" denotes the workspace root.
type AclRule struct {
	WorkspaceID string
	RuleID      string
	Scope       string // always "folder"
	FolderID    string
	RoleIDs     []string
	Read        AclEffect
	Write       AclEffect
	Locked      bool
}

// ApiKeyScope distinguishes workspace-scoped from service-scoped keys.
type ApiKeyScope string

const (
	ApiKeyScopeWorkspace ApiKeyScope = "workspace"
	ApiKeyScopeService   ApiKeyScope = "service"
)

// ApiKey is a bearer credential stored as a deterministic SHA-256 digest
// (internal/authctx.HashApiKey) so it can be looked up by the hash of a
// presented value. The plaintext secret is returned only at creation time
// and never persisted.
type ApiKey struct {
	ApiKeyID   string
	WorkspaceID string // empty for service-scoped keys
	Scope      ApiKeyScope
	Name       string
	Prefix     string
	Hash       string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// ServiceSettings is one settings row per workspace, one column per field,
// narrowed to gateway-relevant fields (spec §12 supplement).
type ServiceSettings struct {
	WorkspaceID           string
	DefaultCodecID        string
	WorkerLeaseMsOverride int
	WorkerBackoffMsOverride int
	UpdatedAt             time.Time
}
