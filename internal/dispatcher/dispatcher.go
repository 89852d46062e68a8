package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashfox/toolgate/internal/backend"
	"github.com/ashfox/toolgate/internal/pipeline"
	"github.com/ashfox/toolgate/internal/policy"
	"github.com/ashfox/toolgate/internal/projectlock"
	"github.com/ashfox/toolgate/internal/types"
)

const defaultProjectID = "default-project"

// Dispatcher is the Dispatcher (spec component C6): the single public
// entry point for every tool call.
type Dispatcher struct {
	backends           *backend.Registry
	locks              *projectlock.Manager
	authz              *policy.Service
	store              *pipeline.Store
	defaultBackendKind string
	metrics            FailureRecorder
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithMetrics installs a FailureRecorder. Omit to use a no-op recorder.
func WithMetrics(m FailureRecorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New builds a Dispatcher. defaultBackendKind is used when payload.backend
// is absent.
func New(backends *backend.Registry, locks *projectlock.Manager, authz *policy.Service, store *pipeline.Store, defaultBackendKind string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backends:           backends,
		locks:              locks,
		authz:              authz,
		store:              store,
		defaultBackendKind: defaultBackendKind,
		metrics:            noopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle turns one (toolName, payload, ctx) into exactly one ToolResponse,
// per spec §4.5.
func (d *Dispatcher) Handle(ctx context.Context, toolName string, payload map[string]any, mcp MCPContext) types.ToolResponse {
	if payload == nil {
		payload = map[string]any{}
	}

	// Pre-dispatch validation step 1: authenticated MCP context required.
	if mcp.AccountID == "" {
		return d.fail(toolName, types.NewError(types.CodeInvalidState,
			"an authenticated MCP session is required", "missing_mcp_account_context"))
	}

	// Step 2: payload.workspaceId, if present, must match the session's.
	if wsID, ok := payload["workspaceId"].(string); ok && wsID != "" && wsID != mcp.WorkspaceID {
		return d.fail(toolName, types.NewError(types.CodeInvalidPayload,
			"payload.workspaceId does not match the active MCP session's workspace", "mcp_workspace_context_mismatch"))
	}

	// Step 3: resolve backend.
	backendKind := d.defaultBackendKind
	if explicit, ok := payload["backend"].(string); ok && explicit != "" {
		backendKind = explicit
	}
	be := d.backends.Resolve(backendKind)
	if be == nil {
		return d.fail(toolName, types.NewError(types.CodeInvalidState,
			fmt.Sprintf("Requested backend is unavailable. Registered backends: %s", strings.Join(d.backends.ListKinds(), ", ")),
			"backend_unavailable"))
	}

	// Step 4: resolve projectId.
	projectID := resolveProjectID(payload)

	meta, ok := types.LookupTool(toolName)
	if !ok {
		return d.fail(toolName, types.NewError(types.CodeNotImplemented,
			fmt.Sprintf("unknown tool %q", toolName), "unknown_tool"))
	}

	actor := policy.Actor{AccountID: mcp.AccountID, SystemRoles: mcp.SystemRoles}
	invocation := backend.InvocationContext{TenantID: mcp.WorkspaceID, ActorID: mcp.AccountID, ProjectID: projectID}

	if !meta.Mutating {
		if meta.RequiresProject {
			folderPath, err := d.store.ResolveFolderPath(ctx, mcp.WorkspaceID, projectID)
			if err != nil {
				return d.fail(toolName, types.NewError(types.CodeIOError, err.Error(), ""))
			}
			if err := d.authz.AuthorizeProjectRead(ctx, mcp.WorkspaceID, folderPath, projectID, toolName, actor); err != nil {
				return d.fail(toolName, mapAuthzError(err))
			}
		}
		return be.HandleTool(ctx, toolName, payload, invocation)
	}

	// Mutating tool: folder-path RBAC gate.
	folderPath, err := d.store.ResolveFolderPath(ctx, mcp.WorkspaceID, projectID)
	if err != nil {
		return d.fail(toolName, types.NewError(types.CodeIOError, err.Error(), ""))
	}
	if err := d.authz.AuthorizeProjectWrite(ctx, mcp.WorkspaceID, folderPath, projectID, toolName, actor); err != nil {
		return d.fail(toolName, mapAuthzError(err))
	}

	agentID := "mcp:" + mcp.SessionID
	lock, lockErr := d.locks.AcquireProjectLock(mcp.WorkspaceID, projectID, agentID, mcp.SessionID)
	if lockErr != nil {
		var held *projectlock.HeldError
		if errors.As(lockErr, &held) {
			return d.fail(toolName, types.NewError(types.CodeInvalidState,
				"project is locked by another session", "project_locked"))
		}
		return d.fail(toolName, types.NewError(types.CodeIOError, lockErr.Error(), ""))
	}
	defer d.locks.ReleaseProjectLock(mcp.WorkspaceID, projectID, lock.OwnerAgentID, lock.OwnerSessionID)

	if rawRevision, present := payload["ifRevision"]; present {
		snap, err := d.store.GetProject(ctx, mcp.WorkspaceID, projectID)
		if err != nil {
			return d.fail(toolName, types.NewError(types.CodeIOError, err.Error(), ""))
		}
		current := 0
		if snap != nil {
			current = snap.Revision
		}
		if asInt(rawRevision) != current {
			return d.fail(toolName, types.NewError(types.CodeInvalidStateRevision,
				"the project has changed since ifRevision was read", "revision_mismatch"))
		}
	}

	return d.invokeBackend(ctx, be, toolName, payload, invocation, mcp.WorkspaceID, projectID)
}

// invokeBackend calls the backend and, on success, reflects the mutation
// back into the pipeline store. A deferred recover turns a backend panic
// into an {code:unknown} response rather than crashing the dispatcher;
// the caller's own deferred lock release still runs regardless.
func (d *Dispatcher) invokeBackend(ctx context.Context, be backend.Backend, toolName string, payload map[string]any, invocation backend.InvocationContext, workspaceID, projectID string) (response types.ToolResponse) {
	defer func() {
		if r := recover(); r != nil {
			response = d.fail(toolName, types.NewError(types.CodeUnknown, fmt.Sprintf("backend panic: %v", r), ""))
		}
	}()
	response = be.HandleTool(ctx, toolName, payload, invocation)
	if response.OK {
		d.recordMutation(ctx, toolName, workspaceID, projectID, payload)
	}
	return response
}

// recordMutation reflects a successful mutating tool call back into the
// Native Pipeline Store: ensure_project establishes the project's folder
// placement (the only tool that can move it), every other mutation bumps
// the business revision that ifRevision guards observe.
func (d *Dispatcher) recordMutation(ctx context.Context, toolName, workspaceID, projectID string, payload map[string]any) {
	if toolName == "ensure_project" {
		var folderPath []string
		if raw, ok := payload["folderPath"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					folderPath = append(folderPath, s)
				}
			}
		}
		_, _ = d.store.EnsureProject(ctx, workspaceID, projectID, folderPath)
		return
	}
	_ = d.store.BumpRevision(ctx, workspaceID, projectID)
}

func (d *Dispatcher) fail(toolName string, toolErr *types.ToolError) types.ToolResponse {
	reason := ""
	if toolErr.Details != nil {
		if r, ok := toolErr.Details["reason"].(string); ok {
			reason = r
		}
	}
	d.metrics.RecordGuardFailure(toolName, string(toolErr.Code), reason)
	return types.ErrResponse(toolErr)
}

func mapAuthzError(err error) *types.ToolError {
	var fe *policy.ForbiddenError
	if errors.As(err, &fe) {
		return types.NewError(types.CodeInvalidState, "access denied", string(fe.Reason))
	}
	var nfe *policy.NotFoundError
	if errors.As(err, &nfe) {
		return types.NewError(types.CodeInvalidState, "workspace not found", string(policy.ReasonWorkspaceNotFound))
	}
	return types.NewError(types.CodeIOError, err.Error(), "")
}

var projectIDFields = []string{"projectId", "project_id", "projectName", "project", "name"}

func resolveProjectID(payload map[string]any) string {
	for _, field := range projectIDFields {
		if v, ok := payload[field].(string); ok && v != "" {
			return v
		}
	}
	return defaultProjectID
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
