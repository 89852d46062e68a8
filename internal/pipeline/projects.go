package pipeline

import (
	"context"
	"sort"
	"strings"
)

// ListProjects returns every project snapshot in workspaceID, optionally
// filtered by a case-insensitive substring match on name.
func (s *Store) ListProjects(ctx context.Context, workspaceID string, query string) ([]ProjectSnapshot, error) {
	st, err := s.readState(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	ids := sortedProjectIDs(st.Projects)
	out := make([]ProjectSnapshot, 0, len(ids))
	needle := strings.ToLower(strings.TrimSpace(query))
	for _, id := range ids {
		snap := st.Projects[id]
		if needle != "" && !strings.Contains(strings.ToLower(snap.Name), needle) {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// GetProject returns one project's snapshot, or nil if it doesn't exist.
func (s *Store) GetProject(ctx context.Context, workspaceID, projectID string) (*ProjectSnapshot, error) {
	st, err := s.readState(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	snap, ok := st.Projects[projectID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// ListProjectJobs returns every job (queued and historical) targeting
// projectID, ordered by createdAt then id (spec §4.2 edge cases).
func (s *Store) ListProjectJobs(ctx context.Context, workspaceID, projectID string) ([]Job, error) {
	st, err := s.readState(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	var out []Job
	for _, job := range st.Jobs {
		if job.ProjectID == projectID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUnixMs != out[j].CreatedAtUnixMs {
			return out[i].CreatedAtUnixMs < out[j].CreatedAtUnixMs
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetJob returns one job by id, or nil if it doesn't exist.
func (s *Store) GetJob(ctx context.Context, workspaceID, jobID string) (*Job, error) {
	st, err := s.readState(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	job, ok := st.Jobs[jobID]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

// GetProjectEventsSince returns events with seq > lastSeq, in order.
func (s *Store) GetProjectEventsSince(ctx context.Context, workspaceID, projectID string, lastSeq int64) ([]ProjectEvent, error) {
	st, err := s.readState(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	var out []ProjectEvent
	for _, e := range st.ProjectEvents[projectID] {
		if e.Seq > lastSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Reset clears all pipeline state for workspaceID. Test-only.
func (s *Store) Reset(ctx context.Context, workspaceID string) error {
	return s.withState(ctx, workspaceID, func(st *pipelineState) (bool, error) {
		*st = *newEmptyState()
		return true, nil
	})
}
