// Package dispatcher implements the Dispatcher (spec component C6): the
// single public entry point that turns one (toolName, payload, ctx) into
// exactly one types.ToolResponse, arbitrating locks, RBAC, and revision
// guards along the way.
package dispatcher

// MCPContext is the per-request identity envelope supplied by the
// transport (spec glossary: "MCP context").
type MCPContext struct {
	SessionID   string
	AccountID   string
	SystemRoles map[string]bool
	WorkspaceID string
	ApiKeyID    string
}
