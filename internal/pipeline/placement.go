package pipeline

import "context"

// EnsureProject upserts a minimal ProjectSnapshot stub for projectID if it
// doesn't already exist, recording folderPath (the folder the project
// lives in, root-to-leaf, empty meaning workspace root). If the project
// already exists and folderPath is non-nil, its placement is updated.
// This lets the Dispatcher resolve AuthorizeProjectWrite/Read's folder
// path and the ifRevision guard's current-revision check against a
// single source of truth even though ordinary tool content mutation is
// owned by the Backend.
func (s *Store) EnsureProject(ctx context.Context, workspaceID, projectID string, folderPath []string) (*ProjectSnapshot, error) {
	var result ProjectSnapshot
	err := s.withState(ctx, workspaceID, func(st *pipelineState) (bool, error) {
		snap, exists := st.Projects[projectID]
		if !exists {
			snap = ProjectSnapshot{
				ProjectID:  projectID,
				Name:       projectID,
				Revision:   1,
				Hierarchy:  []HierarchyNode{},
				Animations: []AnimationClip{},
				FolderPath: folderPath,
			}
			st.Projects[projectID] = snap
			result = snap
			return true, nil
		}
		if folderPath != nil {
			snap.FolderPath = folderPath
			st.Projects[projectID] = snap
		}
		result = snap
		return folderPath != nil, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ResolveFolderPath returns the folder path of an existing project, or an
// empty path (workspace root) if the project is not yet tracked by the
// pipeline store.
func (s *Store) ResolveFolderPath(ctx context.Context, workspaceID, projectID string) ([]string, error) {
	snap, err := s.GetProject(ctx, workspaceID, projectID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	return snap.FolderPath, nil
}

// BumpRevision increments a project's business revision after a
// successful mutating tool call, so subsequent ifRevision guards observe
// the change. No-op if the project isn't tracked.
func (s *Store) BumpRevision(ctx context.Context, workspaceID, projectID string) error {
	return s.withState(ctx, workspaceID, func(st *pipelineState) (bool, error) {
		snap, ok := st.Projects[projectID]
		if !ok {
			return false, nil
		}
		snap.Revision++
		st.Projects[projectID] = snap
		appendProjectEvent(st, projectID, snap)
		return true, nil
	})
}
