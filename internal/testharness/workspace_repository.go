// Package testharness provides in-memory implementations of the C1 ports
// plus a fake Backend, for deterministic tests of C2-C7 without a real
// database (spec component C9).
package testharness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/ashfox/toolgate/internal/ports"
)

// WorkspaceRepository is an in-memory ports.WorkspaceRepository.
type WorkspaceRepository struct {
	mu sync.Mutex

	accounts  map[string]ports.Account
	workspaces map[string]ports.Workspace
	roles     map[string]map[string]ports.Role // workspaceID -> roleID -> Role
	members   map[string]map[string]ports.Member
	aclRules  map[string]map[string]ports.AclRule
	wsKeys    map[string]ports.ApiKey
	svcKeys   map[string]ports.ApiKey
	settings  map[string]ports.ServiceSettings
	nextRule  int
}

// NewWorkspaceRepository builds an empty in-memory repository.
func NewWorkspaceRepository() *WorkspaceRepository {
	return &WorkspaceRepository{
		accounts:   make(map[string]ports.Account),
		workspaces: make(map[string]ports.Workspace),
		roles:      make(map[string]map[string]ports.Role),
		members:    make(map[string]map[string]ports.Member),
		aclRules:   make(map[string]map[string]ports.AclRule),
		wsKeys:     make(map[string]ports.ApiKey),
		svcKeys:    make(map[string]ports.ApiKey),
		settings:   make(map[string]ports.ServiceSettings),
	}
}

func (r *WorkspaceRepository) CreateAccount(_ context.Context, account ports.Account) (ports.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.AccountID] = account
	return account, nil
}

func (r *WorkspaceRepository) GetAccount(_ context.Context, accountID string) (*ports.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *WorkspaceRepository) UpdateAccount(_ context.Context, account ports.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.AccountID] = account
	return nil
}

func (r *WorkspaceRepository) DeleteAccount(_ context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, accountID)
	return nil
}

func (r *WorkspaceRepository) CreateWorkspace(_ context.Context, ws ports.Workspace) (ports.Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspaces[ws.WorkspaceID] = ws
	if _, ok := r.roles[ws.WorkspaceID]; !ok {
		r.roles[ws.WorkspaceID] = make(map[string]ports.Role)
	}
	if _, ok := r.members[ws.WorkspaceID]; !ok {
		r.members[ws.WorkspaceID] = make(map[string]ports.Member)
	}
	if _, ok := r.aclRules[ws.WorkspaceID]; !ok {
		r.aclRules[ws.WorkspaceID] = make(map[string]ports.AclRule)
	}
	return ws, nil
}

func (r *WorkspaceRepository) GetWorkspace(_ context.Context, workspaceID string) (*ports.Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[workspaceID]
	if !ok {
		return nil, nil
	}
	return &ws, nil
}

func (r *WorkspaceRepository) UpdateWorkspace(_ context.Context, ws ports.Workspace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspaces[ws.WorkspaceID] = ws
	return nil
}

func (r *WorkspaceRepository) DeleteWorkspace(_ context.Context, workspaceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workspaces, workspaceID)
	delete(r.roles, workspaceID)
	delete(r.members, workspaceID)
	delete(r.aclRules, workspaceID)
	return nil
}

func (r *WorkspaceRepository) ListWorkspaceIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.workspaces))
	for id := range r.workspaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *WorkspaceRepository) CreateRole(_ context.Context, role ports.Role) (ports.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[role.WorkspaceID]; !ok {
		r.roles[role.WorkspaceID] = make(map[string]ports.Role)
	}
	r.roles[role.WorkspaceID][role.RoleID] = role
	return role, nil
}

func (r *WorkspaceRepository) ListRoles(_ context.Context, workspaceID string) ([]ports.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.Role, 0, len(r.roles[workspaceID]))
	for _, role := range r.roles[workspaceID] {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (r *WorkspaceRepository) GetRole(_ context.Context, workspaceID, roleID string) (*ports.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[workspaceID][roleID]
	if !ok {
		return nil, nil
	}
	return &role, nil
}

func (r *WorkspaceRepository) UpdateRole(_ context.Context, role ports.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.WorkspaceID][role.RoleID] = role
	return nil
}

func (r *WorkspaceRepository) DeleteRole(_ context.Context, workspaceID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles[workspaceID], roleID)
	return nil
}

func (r *WorkspaceRepository) UpsertMember(_ context.Context, member ports.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[member.WorkspaceID]; !ok {
		r.members[member.WorkspaceID] = make(map[string]ports.Member)
	}
	r.members[member.WorkspaceID][member.AccountID] = member
	return nil
}

func (r *WorkspaceRepository) ListMembers(_ context.Context, workspaceID string) ([]ports.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.Member, 0, len(r.members[workspaceID]))
	for _, m := range r.members[workspaceID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (r *WorkspaceRepository) GetMember(_ context.Context, workspaceID, accountID string) (*ports.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[workspaceID][accountID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *WorkspaceRepository) RemoveMember(_ context.Context, workspaceID, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[workspaceID], accountID)
	return nil
}

func aclRuleHash(rule ports.AclRule) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%v", rule.FolderID, rule.Read, rule.Write, rule.Locked)))
	return hex.EncodeToString(h[:])[:16]
}

func (r *WorkspaceRepository) UpsertAclRule(_ context.Context, rule ports.AclRule) (ports.AclRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule.RuleID == "" {
		rule.RuleID = aclRuleHash(rule)
	}
	if rule.Scope == "" {
		rule.Scope = "folder"
	}
	if _, ok := r.aclRules[rule.WorkspaceID]; !ok {
		r.aclRules[rule.WorkspaceID] = make(map[string]ports.AclRule)
	}
	r.aclRules[rule.WorkspaceID][rule.RuleID] = rule
	return rule, nil
}

func (r *WorkspaceRepository) ListAclRules(_ context.Context, workspaceID string) ([]ports.AclRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.AclRule, 0, len(r.aclRules[workspaceID]))
	for _, rule := range r.aclRules[workspaceID] {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

func (r *WorkspaceRepository) RemoveAclRule(_ context.Context, workspaceID, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aclRules[workspaceID], ruleID)
	return nil
}

func (r *WorkspaceRepository) CreateWorkspaceApiKey(_ context.Context, key ports.ApiKey) (ports.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wsKeys[key.ApiKeyID] = key
	return key, nil
}

func (r *WorkspaceRepository) ListWorkspaceApiKeys(_ context.Context, workspaceID string) ([]ports.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ports.ApiKey
	for _, k := range r.wsKeys {
		if k.WorkspaceID == workspaceID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApiKeyID < out[j].ApiKeyID })
	return out, nil
}

func (r *WorkspaceRepository) RevokeWorkspaceApiKey(_ context.Context, workspaceID, apiKeyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.wsKeys[apiKeyID]
	if !ok || k.WorkspaceID != workspaceID {
		return nil
	}
	now := k.CreatedAt
	k.RevokedAt = &now
	r.wsKeys[apiKeyID] = k
	return nil
}

func (r *WorkspaceRepository) FindWorkspaceApiKeyByHash(_ context.Context, hash string) (*ports.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.wsKeys {
		if k.Hash == hash {
			kk := k
			return &kk, nil
		}
	}
	return nil, nil
}

func (r *WorkspaceRepository) UpdateApiKeyLastUsed(_ context.Context, apiKeyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.wsKeys[apiKeyID]; ok {
		now := k.CreatedAt
		k.LastUsedAt = &now
		r.wsKeys[apiKeyID] = k
	}
	return nil
}

func (r *WorkspaceRepository) CreateServiceApiKey(_ context.Context, key ports.ApiKey) (ports.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.svcKeys[key.ApiKeyID] = key
	return key, nil
}

func (r *WorkspaceRepository) ListServiceApiKeys(_ context.Context) ([]ports.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.ApiKey, 0, len(r.svcKeys))
	for _, k := range r.svcKeys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApiKeyID < out[j].ApiKeyID })
	return out, nil
}

func (r *WorkspaceRepository) RevokeServiceApiKey(_ context.Context, apiKeyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.svcKeys[apiKeyID]; ok {
		now := k.CreatedAt
		k.RevokedAt = &now
		r.svcKeys[apiKeyID] = k
	}
	return nil
}

func (r *WorkspaceRepository) FindServiceApiKeyByHash(_ context.Context, hash string) (*ports.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.svcKeys {
		if k.Hash == hash {
			kk := k
			return &kk, nil
		}
	}
	return nil, nil
}

func (r *WorkspaceRepository) GetServiceSettings(_ context.Context, workspaceID string) (*ports.ServiceSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[workspaceID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *WorkspaceRepository) UpsertServiceSettings(_ context.Context, settings ports.ServiceSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[settings.WorkspaceID] = settings
	return nil
}

var _ ports.WorkspaceRepository = (*WorkspaceRepository)(nil)
