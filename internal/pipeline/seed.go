package pipeline

// BuiltinProject is one sample project seeded into a fresh workspace's
// pipeline state on first access (spec §4.2 "state seeding"). Adapted
// from the teacher's internal/seed idempotent demo-data provisioning
// idiom, generalized from on-call demo incidents to sample modeling
// projects.
type BuiltinProject struct {
	ProjectID string
	Name      string
	Hierarchy []HierarchyNode
}

func defaultBuiltinProjects() []BuiltinProject {
	return []BuiltinProject{
		{
			ProjectID: "default-project",
			Name:      "Default Project",
			Hierarchy: []HierarchyNode{
				{
					ID:   "bone-root",
					Kind: "bone",
					Name: "root",
					Children: []HierarchyNode{
						{ID: "cube-body", Kind: "cube", Name: "body"},
					},
				},
			},
		},
	}
}

// seedBuiltins populates an empty state with the configured built-in
// sample projects and emits one project_snapshot event per project. It
// is a no-op (returns false) if st already has any projects, so it is
// safe to call unconditionally against a state that might have been
// concurrently seeded.
func (s *Store) seedBuiltins(st *pipelineState) bool {
	if len(st.Projects) > 0 {
		return false
	}
	for _, seed := range s.seeds {
		snapshot := snapshotFromSeed(seed)
		st.Projects[snapshot.ProjectID] = snapshot
		appendProjectEvent(st, snapshot.ProjectID, snapshot)
	}
	return len(s.seeds) > 0
}

func snapshotFromSeed(seed BuiltinProject) ProjectSnapshot {
	bones, cubes := countNodes(seed.Hierarchy)
	return ProjectSnapshot{
		ProjectID:   seed.ProjectID,
		Name:        seed.Name,
		Revision:    1,
		HasGeometry: cubes > 0,
		Hierarchy:   seed.Hierarchy,
		Animations:  []AnimationClip{},
		Stats:       ProjectStats{Bones: bones, Cubes: cubes},
	}
}

func countNodes(nodes []HierarchyNode) (bones, cubes int) {
	for _, n := range nodes {
		switch n.Kind {
		case "bone":
			bones++
		case "cube":
			cubes++
		}
		childBones, childCubes := countNodes(n.Children)
		bones += childBones
		cubes += childCubes
	}
	return bones, cubes
}
