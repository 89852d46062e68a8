// Package pipeline implements the Native Pipeline Store (spec component
// C3): a durable queue plus project-graph state, mutated under a
// CAS-guarded distributed lock, with job claim/complete/fail and a
// per-project event journal.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/ashfox/toolgate/internal/types"
)

const stateSchemaVersion = 1

// HierarchyNode is one bone or cube in a ProjectSnapshot's tree. The tree
// is kept in recursive form: Children holds the child nodes themselves,
// not indices into a slab. This package does not check the tree for
// duplicate ids or self-references.
type HierarchyNode struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"` // "bone" | "cube"
	Name     string          `json:"name,omitempty"`
	Children []HierarchyNode `json:"children,omitempty"`
}

// AnimationClip is one entry of ProjectSnapshot.animations.
type AnimationClip struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Length float64 `json:"length"`
	Loop   bool    `json:"loop"`
}

// ActiveJobRef is present on a ProjectSnapshot iff a job targeting it is
// queued or running.
type ActiveJobRef struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ProjectStats mirrors the hierarchy's node counts.
type ProjectStats struct {
	Bones int `json:"bones"`
	Cubes int `json:"cubes"`
}

// ProjectSnapshot is the durable, queryable view of one project's content
// graph.
type ProjectSnapshot struct {
	ProjectID   string          `json:"projectId"`
	Name        string          `json:"name"`
	Revision    int             `json:"revision"`
	HasGeometry bool            `json:"hasGeometry"`
	FocusAnchor *[3]float64     `json:"focusAnchor,omitempty"`
	Hierarchy   []HierarchyNode `json:"hierarchy"`
	Animations  []AnimationClip `json:"animations"`
	Stats       ProjectStats    `json:"stats"`
	ActiveJob   *ActiveJobRef   `json:"activeJob,omitempty"`
	// FolderPath places the project in the workspace's ACL folder tree,
	// root to leaf (empty means workspace-root). It is not named in the
	// original data model but is required for AuthorizeProjectWrite/Read
	// to resolve a folder path. Only EnsureProject (called by the
	// Dispatcher for ensure_project) sets it; SubmitJob does not.
	FolderPath []string `json:"folderPath,omitempty"`
}

// JobStatus is the closed set of Job.status values.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one unit of asynchronous work against a project.
type Job struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"projectId"`
	Kind           types.JobKind  `json:"kind"`
	Status         JobStatus      `json:"status"`
	AttemptCount   int            `json:"attemptCount"`
	MaxAttempts    int            `json:"maxAttempts"`
	LeaseMs        int64          `json:"leaseMs"`
	CreatedAtUnixMs int64         `json:"createdAt"`
	StartedAtUnixMs *int64        `json:"startedAt,omitempty"`
	LeaseExpiresAtUnixMs *int64   `json:"leaseExpiresAt,omitempty"`
	NextRetryAtUnixMs *int64      `json:"nextRetryAt,omitempty"`
	CompletedAtUnixMs *int64      `json:"completedAt,omitempty"`
	WorkerID       string         `json:"workerId,omitempty"`
	Error          string         `json:"error,omitempty"`
	DeadLetter     bool           `json:"deadLetter,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
}

// ProjectEvent is one journal entry. Event is always "project_snapshot".
type ProjectEvent struct {
	Seq   int64           `json:"seq"`
	Event string          `json:"event"`
	Data  ProjectSnapshot `json:"data"`
}

// pipelineState is the single record persisted per workspace scope.
type pipelineState struct {
	SchemaVersion int                         `json:"schemaVersion"`
	NextJobID     int                         `json:"nextJobId"`
	NextSeq       int64                       `json:"nextSeq"`
	Projects      map[string]ProjectSnapshot  `json:"projects"`
	Jobs          map[string]Job              `json:"jobs"`
	QueuedJobIDs  []string                    `json:"queuedJobIds"`
	ProjectEvents map[string][]ProjectEvent   `json:"projectEvents"`
}

func newEmptyState() *pipelineState {
	return &pipelineState{
		SchemaVersion: stateSchemaVersion,
		Projects:      make(map[string]ProjectSnapshot),
		Jobs:          make(map[string]Job),
		ProjectEvents: make(map[string][]ProjectEvent),
	}
}

// decodeState deserializes a state record. A record with a mismatched
// schema version, or no record at all, yields a fresh empty state (the
// caller seeds it). The record is decoded as a whole: unknown fields are
// ignored, but any malformed entry makes the whole record decode as a
// fresh empty state rather than dropping just that entry. After a
// successful decode, counters are clamped to max(existing)+1.
func decodeState(raw []byte) (*pipelineState, error) {
	if len(raw) == 0 {
		return newEmptyState(), nil
	}
	var st pipelineState
	if err := json.Unmarshal(raw, &st); err != nil {
		return newEmptyState(), nil
	}
	if st.SchemaVersion != stateSchemaVersion {
		return newEmptyState(), nil
	}
	if st.Projects == nil {
		st.Projects = make(map[string]ProjectSnapshot)
	}
	if st.Jobs == nil {
		st.Jobs = make(map[string]Job)
	}
	if st.ProjectEvents == nil {
		st.ProjectEvents = make(map[string][]ProjectEvent)
	}
	st.clampCounters()
	return &st, nil
}

// clampCounters enforces nextJobId/nextSeq ≥ max(existing)+1, guarding
// against a record whose counters regressed due to partial writes.
func (s *pipelineState) clampCounters() {
	maxJobN := 0
	for id := range s.Jobs {
		if n := jobNumber(id); n+1 > maxJobN {
			maxJobN = n + 1
		}
	}
	if s.NextJobID < maxJobN {
		s.NextJobID = maxJobN
	}
	var maxSeq int64
	for _, events := range s.ProjectEvents {
		for _, e := range events {
			if e.Seq >= maxSeq {
				maxSeq = e.Seq + 1
			}
		}
	}
	if s.NextSeq < maxSeq {
		s.NextSeq = maxSeq
	}
}

// jobNumber extracts <n> from a "job-<n>" id, or 0 if malformed.
func jobNumber(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "job-"))
	if err != nil {
		return 0
	}
	return n
}

// encodeState serializes state deterministically (sorted map keys via
// encoding/json's default map ordering) so its content hash is stable.
func encodeState(st *pipelineState) ([]byte, error) {
	return json.Marshal(st)
}

// contentHashRevision returns the content-hash revision token for state's
// serialized form.
func contentHashRevision(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// sortedProjectIDs returns project keys sorted ascending, for deterministic
// listing order.
func sortedProjectIDs(projects map[string]ProjectSnapshot) []string {
	ids := make([]string, 0, len(projects))
	for id := range projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
