package testharness

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashfox/toolgate/internal/backend"
	"github.com/ashfox/toolgate/internal/types"
)

// FakeBackend is a minimal in-memory Backend implementing just enough of
// list_capabilities / ensure_project / export / get_project_state /
// preflight_texture for worker and dispatcher tests.
type FakeBackend struct {
	mu sync.Mutex

	kind         string
	capabilities map[string]bool
	projects     map[string]bool
	health       backend.Health

	// Textures maps textureId -> usage descriptor, driving
	// preflight_texture results.
	Textures map[string]TextureUsage

	// ExportCalls records every export invocation for idempotence tests.
	ExportCalls []map[string]any

	// FailNextHandle, if set, makes the next HandleTool call return this
	// error message as an unknown ToolError, then clears itself.
	FailNextHandle string
}

// TextureUsage describes one texture's dimensions for preflight checks.
type TextureUsage struct {
	Width, Height   int
	PowerOfTwo      bool
	OversizedLimit  int
}

// NewFakeBackend builds a FakeBackend with every known tool marked
// available.
func NewFakeBackend(kind string) *FakeBackend {
	caps := make(map[string]bool, len(types.AllTools()))
	for _, t := range types.AllTools() {
		caps[t] = true
	}
	return &FakeBackend{
		kind:         kind,
		capabilities: caps,
		projects:     make(map[string]bool),
		health:       backend.Health{Kind: kind, Availability: backend.AvailabilityReady, Version: "test"},
		Textures:     make(map[string]TextureUsage),
	}
}

// SetCapability toggles whether a tool is reported available, letting
// tests exercise the worker's required-capabilities check.
func (b *FakeBackend) SetCapability(tool string, available bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capabilities[tool] = available
}

func (b *FakeBackend) Kind() string { return b.kind }

func (b *FakeBackend) GetHealth(context.Context) backend.Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.health
}

func (b *FakeBackend) HandleTool(_ context.Context, name string, payload map[string]any, invocation backend.InvocationContext) types.ToolResponse {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailNextHandle != "" {
		msg := b.FailNextHandle
		b.FailNextHandle = ""
		return types.ErrResponse(types.NewError(types.CodeUnknown, msg, "backend_failure"))
	}

	switch name {
	case "list_capabilities":
		caps := make(map[string]bool, len(b.capabilities))
		for k, v := range b.capabilities {
			caps[k] = v
		}
		return types.OKResponse(map[string]any{"capabilities": caps})
	case "ensure_project":
		b.projects[invocation.ProjectID] = true
		return types.OKResponse(map[string]any{"projectId": invocation.ProjectID})
	case "export":
		b.ExportCalls = append(b.ExportCalls, payload)
		format, _ := payload["format"].(string)
		codecID, _ := payload["codecId"].(string)
		if format == "native_codec" && codecID == "unknown-codec" {
			return types.ErrResponse(types.NewError(types.CodeUnsupportedFormat, "unsupported codec: "+codecID, "unknown_codec"))
		}
		return types.OKResponse(map[string]any{
			"exportPath":      fmt.Sprintf("exports/%s/out.bin", invocation.ProjectID),
			"selectedTarget":  firstNonEmpty(codecID, format),
			"selectedFormat":  format,
			"requestedCodecId": codecID,
		})
	case "get_project_state":
		return types.OKResponse(map[string]any{
			"hasGeometry": true,
			"hierarchy": []any{
				map[string]any{"id": "bone-1", "children": []any{map[string]any{"id": "cube-1"}}},
			},
			"animations": []any{},
			"textures":   []any{},
		})
	case "preflight_texture":
		return b.handlePreflight(payload)
	default:
		return types.ErrResponse(types.NewError(types.CodeNotImplemented, "tool not implemented in fake backend: "+name, "not_implemented"))
	}
}

func (b *FakeBackend) handlePreflight(payload map[string]any) types.ToolResponse {
	rawIDs, _ := payload["textureIds"].([]any)
	maxDimension := asInt(payload["maxDimension"])
	allowNPOT, _ := payload["allowNonPowerOfTwo"].(bool)

	var diagnostics []string
	var missing []string
	checked := 0
	oversized := 0
	nonPowerOfTwo := 0

	for _, raw := range rawIDs {
		id, _ := raw.(string)
		usage, ok := b.Textures[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		checked++
		if maxDimension > 0 && (usage.Width > maxDimension || usage.Height > maxDimension) {
			oversized++
			diagnostics = append(diagnostics, fmt.Sprintf("texture %q exceeds max dimension %d", id, maxDimension))
		}
		if !allowNPOT && !usage.PowerOfTwo {
			nonPowerOfTwo++
			diagnostics = append(diagnostics, fmt.Sprintf("texture %q is not power-of-two", id))
		}
	}
	if len(missing) > 0 {
		diagnostics = append(diagnostics, "missing texture id(s): "+joinStrings(missing))
	}

	status := "passed"
	if oversized > 0 || nonPowerOfTwo > 0 || len(missing) > 0 {
		status = "failed"
	}

	return types.OKResponse(map[string]any{
		"status": status,
		"summary": map[string]any{
			"checked":         checked,
			"oversized":       oversized,
			"nonPowerOfTwo":   nonPowerOfTwo,
			"unresolvedCount": len(missing),
		},
		"diagnostics": diagnostics,
	})
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinStrings(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}

var _ backend.Backend = (*FakeBackend)(nil)
