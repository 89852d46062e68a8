package types

import (
	"fmt"
	"sort"
	"strings"
)

// JobKind is the closed set of worker job kinds (spec §4.3/§6).
type JobKind string

const (
	JobKindGLTFConvert      JobKind = "gltf.convert"
	JobKindTexturePreflight JobKind = "texture.preflight"
)

// gltfConvertFields are the only top-level fields a gltf.convert payload
// may carry.
var gltfConvertFields = map[string]bool{
	"codecId":  true,
	"optimize": true,
}

// ValidateJobPayload checks a decoded job payload against its kind's shape
// and returns a ready-to-surface ToolError on violation, per spec §6.
func ValidateJobPayload(kind JobKind, payload map[string]any) *ToolError {
	switch kind {
	case JobKindGLTFConvert:
		return validateGLTFConvertPayload(payload)
	case JobKindTexturePreflight:
		return validateTexturePreflightPayload(payload)
	default:
		return NewError(CodeInvalidPayload, fmt.Sprintf("unknown job kind %q", kind), "unknown_job_kind")
	}
}

func validateGLTFConvertPayload(payload map[string]any) *ToolError {
	var unsupported []string
	for k := range payload {
		if !gltfConvertFields[k] {
			unsupported = append(unsupported, k)
		}
	}
	if len(unsupported) == 0 {
		return nil
	}
	sort.Strings(unsupported)
	return NewError(
		CodeInvalidPayload,
		fmt.Sprintf("payload has unsupported field(s) for gltf.convert: %s", strings.Join(unsupported, ", ")),
		"unsupported_field",
	)
}

func validateTexturePreflightPayload(payload map[string]any) *ToolError {
	raw, ok := payload["textureIds"]
	if !ok {
		return NewError(
			CodeInvalidPayload,
			"payload.textureIds must be an array of non-empty strings",
			"invalid_texture_ids",
		)
	}
	ids, ok := raw.([]any)
	if !ok {
		return NewError(
			CodeInvalidPayload,
			"payload.textureIds must be an array of non-empty strings",
			"invalid_texture_ids",
		)
	}
	for _, idRaw := range ids {
		s, ok := idRaw.(string)
		if !ok || s == "" {
			return NewError(
				CodeInvalidPayload,
				"payload.textureIds must be an array of non-empty strings",
				"invalid_texture_ids",
			)
		}
	}
	return nil
}

// JobKinds returns every registered job kind in a stable order.
func JobKinds() []JobKind {
	return []JobKind{JobKindGLTFConvert, JobKindTexturePreflight}
}
