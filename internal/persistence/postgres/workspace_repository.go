package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashfox/toolgate/internal/ports"
)

// WorkspaceRepository is a Postgres-backed ports.WorkspaceRepository.
// Account, API key, and service-settings operations live in sibling files
// (accounts.go, apikeys.go, settings.go) following the teacher's one-
// concern-per-file layout.
type WorkspaceRepository struct {
	pool *pgxpool.Pool
}

// NewWorkspaceRepository builds a WorkspaceRepository backed by pool.
func NewWorkspaceRepository(pool *pgxpool.Pool) *WorkspaceRepository {
	return &WorkspaceRepository{pool: pool}
}

func (r *WorkspaceRepository) CreateWorkspace(ctx context.Context, ws ports.Workspace) (ports.Workspace, error) {
	const query = `INSERT INTO workspaces (workspace_id, tenant_id, name, default_member_role_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING workspace_id, tenant_id, name, default_member_role_id, created_by, created_at, updated_at`
	row := r.pool.QueryRow(ctx, query, ws.WorkspaceID, ws.TenantID, ws.Name, ws.DefaultMemberRoleID, ws.CreatedBy)
	return scanWorkspace(row)
}

func (r *WorkspaceRepository) GetWorkspace(ctx context.Context, workspaceID string) (*ports.Workspace, error) {
	const query = `SELECT workspace_id, tenant_id, name, default_member_role_id, created_by, created_at, updated_at
		FROM workspaces WHERE workspace_id = $1`
	ws, err := scanWorkspace(r.pool.QueryRow(ctx, query, workspaceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting workspace: %w", err)
	}
	return &ws, nil
}

func (r *WorkspaceRepository) UpdateWorkspace(ctx context.Context, ws ports.Workspace) error {
	const query = `UPDATE workspaces SET name = $2, default_member_role_id = $3, updated_at = now() WHERE workspace_id = $1`
	_, err := r.pool.Exec(ctx, query, ws.WorkspaceID, ws.Name, ws.DefaultMemberRoleID)
	if err != nil {
		return fmt.Errorf("updating workspace: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM workspaces WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT workspace_id FROM workspaces ORDER BY workspace_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing workspace ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning workspace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanWorkspace(row pgx.Row) (ports.Workspace, error) {
	var ws ports.Workspace
	err := row.Scan(&ws.WorkspaceID, &ws.TenantID, &ws.Name, &ws.DefaultMemberRoleID, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt)
	return ws, err
}

func (r *WorkspaceRepository) CreateRole(ctx context.Context, role ports.Role) (ports.Role, error) {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return ports.Role{}, fmt.Errorf("marshaling role permissions: %w", err)
	}
	const query = `INSERT INTO roles (workspace_id, role_id, name, builtin, permissions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING workspace_id, role_id, name, builtin, permissions`
	row := r.pool.QueryRow(ctx, query, role.WorkspaceID, role.RoleID, role.Name, role.Builtin, perms)
	return scanRole(row)
}

func (r *WorkspaceRepository) ListRoles(ctx context.Context, workspaceID string) ([]ports.Role, error) {
	const query = `SELECT workspace_id, role_id, name, builtin, permissions FROM roles WHERE workspace_id = $1 ORDER BY role_id ASC`
	rows, err := r.pool.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()
	var out []ports.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *WorkspaceRepository) GetRole(ctx context.Context, workspaceID, roleID string) (*ports.Role, error) {
	const query = `SELECT workspace_id, role_id, name, builtin, permissions FROM roles WHERE workspace_id = $1 AND role_id = $2`
	role, err := scanRole(r.pool.QueryRow(ctx, query, workspaceID, roleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting role: %w", err)
	}
	return &role, nil
}

func (r *WorkspaceRepository) UpdateRole(ctx context.Context, role ports.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("marshaling role permissions: %w", err)
	}
	const query = `UPDATE roles SET name = $3, permissions = $4 WHERE workspace_id = $1 AND role_id = $2`
	_, err = r.pool.Exec(ctx, query, role.WorkspaceID, role.RoleID, role.Name, perms)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) DeleteRole(ctx context.Context, workspaceID, roleID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE workspace_id = $1 AND role_id = $2`, workspaceID, roleID)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (ports.Role, error) {
	var role ports.Role
	var perms []byte
	if err := row.Scan(&role.WorkspaceID, &role.RoleID, &role.Name, &role.Builtin, &perms); err != nil {
		return ports.Role{}, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return ports.Role{}, fmt.Errorf("unmarshaling role permissions: %w", err)
		}
	}
	return role, nil
}

func (r *WorkspaceRepository) UpsertMember(ctx context.Context, member ports.Member) error {
	roleIDs, err := json.Marshal(member.RoleIDs)
	if err != nil {
		return fmt.Errorf("marshaling member role ids: %w", err)
	}
	const query = `INSERT INTO members (workspace_id, account_id, role_ids)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, account_id) DO UPDATE SET role_ids = EXCLUDED.role_ids`
	_, err = r.pool.Exec(ctx, query, member.WorkspaceID, member.AccountID, roleIDs)
	if err != nil {
		return fmt.Errorf("upserting member: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) ListMembers(ctx context.Context, workspaceID string) ([]ports.Member, error) {
	const query = `SELECT workspace_id, account_id, role_ids FROM members WHERE workspace_id = $1 ORDER BY account_id ASC`
	rows, err := r.pool.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()
	var out []ports.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *WorkspaceRepository) GetMember(ctx context.Context, workspaceID, accountID string) (*ports.Member, error) {
	const query = `SELECT workspace_id, account_id, role_ids FROM members WHERE workspace_id = $1 AND account_id = $2`
	m, err := scanMember(r.pool.QueryRow(ctx, query, workspaceID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting member: %w", err)
	}
	return &m, nil
}

func (r *WorkspaceRepository) RemoveMember(ctx context.Context, workspaceID, accountID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM members WHERE workspace_id = $1 AND account_id = $2`, workspaceID, accountID)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	return nil
}

func scanMember(row rowScanner) (ports.Member, error) {
	var m ports.Member
	var roleIDs []byte
	if err := row.Scan(&m.WorkspaceID, &m.AccountID, &roleIDs); err != nil {
		return ports.Member{}, err
	}
	if len(roleIDs) > 0 {
		if err := json.Unmarshal(roleIDs, &m.RoleIDs); err != nil {
			return ports.Member{}, fmt.Errorf("unmarshaling member role ids: %w", err)
		}
	}
	return m, nil
}

// aclRuleHash derives a rule id from (folderId, read, write, locked) when
// the caller doesn't supply one (spec §6 port description).
func aclRuleHash(rule ports.AclRule) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%v", rule.FolderID, rule.Read, rule.Write, rule.Locked)))
	return hex.EncodeToString(h[:])[:16]
}

func (r *WorkspaceRepository) UpsertAclRule(ctx context.Context, rule ports.AclRule) (ports.AclRule, error) {
	if rule.RuleID == "" {
		rule.RuleID = aclRuleHash(rule)
	}
	if rule.Scope == "" {
		rule.Scope = "folder"
	}
	roleIDs, err := json.Marshal(rule.RoleIDs)
	if err != nil {
		return ports.AclRule{}, fmt.Errorf("marshaling acl rule role ids: %w", err)
	}
	const query = `INSERT INTO acl_rules (workspace_id, rule_id, scope, folder_id, role_ids, read, write, locked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workspace_id, rule_id) DO UPDATE
		SET scope = EXCLUDED.scope, folder_id = EXCLUDED.folder_id, role_ids = EXCLUDED.role_ids,
		    read = EXCLUDED.read, write = EXCLUDED.write, locked = EXCLUDED.locked
		RETURNING workspace_id, rule_id, scope, folder_id, role_ids, read, write, locked`
	row := r.pool.QueryRow(ctx, query, rule.WorkspaceID, rule.RuleID, rule.Scope, rule.FolderID, roleIDs, rule.Read, rule.Write, rule.Locked)
	return scanAclRule(row)
}

func (r *WorkspaceRepository) ListAclRules(ctx context.Context, workspaceID string) ([]ports.AclRule, error) {
	const query = `SELECT workspace_id, rule_id, scope, folder_id, role_ids, read, write, locked
		FROM acl_rules WHERE workspace_id = $1 ORDER BY rule_id ASC`
	rows, err := r.pool.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing acl rules: %w", err)
	}
	defer rows.Close()
	var out []ports.AclRule
	for rows.Next() {
		rule, err := scanAclRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning acl rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *WorkspaceRepository) RemoveAclRule(ctx context.Context, workspaceID, ruleID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM acl_rules WHERE workspace_id = $1 AND rule_id = $2`, workspaceID, ruleID)
	if err != nil {
		return fmt.Errorf("removing acl rule: %w", err)
	}
	return nil
}

func scanAclRule(row rowScanner) (ports.AclRule, error) {
	var rule ports.AclRule
	var roleIDs []byte
	if err := row.Scan(&rule.WorkspaceID, &rule.RuleID, &rule.Scope, &rule.FolderID, &roleIDs, &rule.Read, &rule.Write, &rule.Locked); err != nil {
		return ports.AclRule{}, err
	}
	if len(roleIDs) > 0 {
		if err := json.Unmarshal(roleIDs, &rule.RoleIDs); err != nil {
			return ports.AclRule{}, fmt.Errorf("unmarshaling acl rule role ids: %w", err)
		}
	}
	return rule, nil
}

var _ ports.WorkspaceRepository = (*WorkspaceRepository)(nil)
