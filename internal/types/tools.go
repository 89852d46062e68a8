package types

// ToolMeta describes one entry in the tool registry (spec §6).
type ToolMeta struct {
	Name            string
	Mutating        bool
	RequiresProject bool
}

// toolNames is the authoritative tool enumeration from spec §6, in
// registration order.
var toolNames = []string{
	"list_capabilities",
	"get_project_state",
	"read_texture",
	"export_trace_log",
	"reload_plugins",
	"generate_texture_preset",
	"auto_uv_atlas",
	"set_project_texture_resolution",
	"preflight_texture",
	"ensure_project",
	"delete_texture",
	"assign_texture",
	"set_face_uv",
	"add_bone",
	"update_bone",
	"delete_bone",
	"add_cube",
	"update_cube",
	"delete_cube",
	"create_animation_clip",
	"update_animation_clip",
	"delete_animation_clip",
	"set_keyframes",
	"set_trigger_keyframes",
	"set_frame_pose",
	"paint_faces",
	"paint_mesh_face",
	"export",
	"render_preview",
	"validate",
}

// noProjectTools don't carry project-scoped state and so skip read-auth
// when non-mutating.
var noProjectTools = map[string]bool{
	"list_capabilities": true,
	"reload_plugins":    true,
	"export_trace_log":  true,
}

// toolRegistry is the authoritative tool enumeration from spec §6. The
// mutating set is exactly the ensure_/add_/update_/delete_/set_/assign_/
// paint_/create_/export families, as spec §6 states verbatim.
var toolRegistry = buildToolRegistry()

func buildToolRegistry() map[string]ToolMeta {
	reg := make(map[string]ToolMeta, len(toolNames))
	for _, n := range toolNames {
		reg[n] = ToolMeta{
			Name:            n,
			Mutating:        isMutatingPrefix(n),
			RequiresProject: !noProjectTools[n],
		}
	}
	return reg
}

var mutatingPrefixes = []string{
	"ensure_", "add_", "update_", "delete_", "set_", "assign_", "paint_", "create_",
}

func isMutatingPrefix(name string) bool {
	// "export" is mutating on its own (it writes the rendered artifact to
	// a blob); "export_trace_log" is a same-family diagnostic read, not a
	// mutation, so it must not fall under the "export" family by prefix.
	if name == "export" {
		return true
	}
	for _, p := range mutatingPrefixes {
		if len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}

// LookupTool returns the registered metadata for a tool name.
func LookupTool(name string) (ToolMeta, bool) {
	m, ok := toolRegistry[name]
	return m, ok
}

// AllTools returns every registered tool name in registration order.
func AllTools() []string {
	names := make([]string, len(toolNames))
	copy(names, toolNames)
	return names
}
