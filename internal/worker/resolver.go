package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ashfox/toolgate/internal/clockutil"
	"github.com/ashfox/toolgate/internal/ports"
)

// WorkspaceIDsResolver returns the current set of workspace ids the worker
// should fan out across (spec §4.3 "workspace fan-out").
type WorkspaceIDsResolver func(ctx context.Context) ([]string, error)

const defaultResolverTTL = 2 * time.Second

// NewWorkspaceResolver builds a resolver that unions staticHints with a
// scan of repo's known workspace ids, cached for ttl (0 selects the spec
// default of 2s).
func NewWorkspaceResolver(repo ports.WorkspaceRepository, staticHints []string, ttl time.Duration, clock clockutil.Clock) WorkspaceIDsResolver {
	if ttl <= 0 {
		ttl = defaultResolverTTL
	}
	var mu sync.Mutex
	var cached []string
	var cachedAt time.Time

	return func(ctx context.Context) ([]string, error) {
		mu.Lock()
		if cached != nil && clock.Now().Sub(cachedAt) < ttl {
			out := append([]string(nil), cached...)
			mu.Unlock()
			return out, nil
		}
		mu.Unlock()

		discovered, err := repo.ListWorkspaceIDs(ctx)
		if err != nil {
			return nil, err
		}

		seen := make(map[string]bool, len(staticHints)+len(discovered))
		union := make([]string, 0, len(staticHints)+len(discovered))
		for _, id := range staticHints {
			if id != "" && !seen[id] {
				seen[id] = true
				union = append(union, id)
			}
		}
		for _, id := range discovered {
			if !seen[id] {
				seen[id] = true
				union = append(union, id)
			}
		}

		mu.Lock()
		cached = union
		cachedAt = clock.Now()
		out := append([]string(nil), union...)
		mu.Unlock()
		return out, nil
	}
}
