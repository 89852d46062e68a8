// Package authctx maps a bearer API key onto the Dispatcher's MCP context
// (spec §4.5 `ctx = {mcpSessionId, mcpAccountId, mcpSystemRoles?,
// mcpWorkspaceId, mcpApiKeyId?}`): it hashes the presented key, looks it
// up in the WorkspaceRepository, rejects unknown or revoked keys, and
// records the key's last use. Full OIDC login/callback/session-cookie
// management is transport-layer session establishment and stays out of
// scope per spec §1; this package handles API keys only.
package authctx

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ashfox/toolgate/internal/dispatcher"
	"github.com/ashfox/toolgate/internal/ports"
)

// SystemRole names mirror the teacher's RBAC roles, narrowed to the two
// roles spec §4.4 calls "system manager" (bypasses all workspace checks).
const (
	SystemRoleSystemAdmin = "system_admin"
	SystemRoleCSAdmin     = "cs_admin"
)

// HashApiKey returns the deterministic SHA-256 hex digest of a raw API
// key, used both to store and to look up keys by hash (spec §6
// `findByHash`). Deterministic hashing, not bcrypt, because the lookup
// path needs to find the row by value, not verify against a known row.
func HashApiKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// GenerateRawApiKey returns a new random raw key and its prefix (the first
// 8 hex characters, shown to the holder for identification without
// revealing the full secret).
func GenerateRawApiKey() (raw, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generating api key: %w", err)
	}
	raw = "ashfox_" + hex.EncodeToString(buf)
	prefix = raw[len("ashfox_") : len("ashfox_")+8]
	return raw, prefix, nil
}

// Resolver resolves a bearer token to an MCPContext by looking up the
// hashed key in the WorkspaceRepository, mirroring the teacher's
// auth.APIKeyAuthenticator.Authenticate shape.
type Resolver struct {
	repo ports.WorkspaceRepository
}

// NewResolver builds a Resolver backed by repo.
func NewResolver(repo ports.WorkspaceRepository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveApiKey authenticates rawKey and returns the MCP context the
// Dispatcher expects, with sessionID set to the request's transport
// session identifier (not derived from the key itself, since one API key
// may back many concurrent MCP sessions).
func (r *Resolver) ResolveApiKey(ctx context.Context, rawKey, sessionID, workspaceID string) (dispatcher.MCPContext, error) {
	if rawKey == "" {
		return dispatcher.MCPContext{}, fmt.Errorf("empty api key")
	}
	hash := HashApiKey(rawKey)
	key, err := r.repo.FindWorkspaceApiKeyByHash(ctx, hash)
	if err != nil {
		return dispatcher.MCPContext{}, fmt.Errorf("looking up api key: %w", err)
	}
	if key == nil {
		key, err = r.repo.FindServiceApiKeyByHash(ctx, hash)
		if err != nil {
			return dispatcher.MCPContext{}, fmt.Errorf("looking up service api key: %w", err)
		}
	}
	if key == nil {
		return dispatcher.MCPContext{}, fmt.Errorf("api key not recognized")
	}
	if key.RevokedAt != nil {
		return dispatcher.MCPContext{}, fmt.Errorf("api key has been revoked")
	}

	if err := r.repo.UpdateApiKeyLastUsed(ctx, key.ApiKeyID); err != nil {
		return dispatcher.MCPContext{}, fmt.Errorf("recording api key usage: %w", err)
	}

	resolvedWorkspace := workspaceID
	if key.Scope == ports.ApiKeyScopeWorkspace {
		resolvedWorkspace = key.WorkspaceID
	}

	return dispatcher.MCPContext{
		SessionID:   sessionID,
		AccountID:   "apikey:" + key.Prefix,
		WorkspaceID: resolvedWorkspace,
		ApiKeyID:    key.ApiKeyID,
	}, nil
}
