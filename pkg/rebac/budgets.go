package rebac

import (
	"context"
	"time"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// Default per-check budgets (spec §4.5 "Cycle and fan-out safeguards").
const (
	DefaultMaxDepth   = 50
	DefaultMaxVisited = 10000
	DefaultMaxFanout  = 1000
	DefaultTimeout    = time.Second
)

// errIndeterminate signals a budget exceeded; callers must treat it as deny
// but may surface it for diagnostics (spec §7 "Indeterminate permission").
var errIndeterminate = errtypes.Indeterminate("check budget exceeded")

// walkState tracks the safeguards for one top-level Check call across its
// entire recursive graph walk.
type walkState struct {
	ctx    context.Context
	cancel context.CancelFunc

	maxDepth   int
	maxVisited int
	maxFanout  int

	visited map[string]struct{}
}

func newWalkState(ctx context.Context) *walkState {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	return &walkState{
		ctx:        ctx,
		cancel:     cancel,
		maxDepth:   DefaultMaxDepth,
		maxVisited: DefaultMaxVisited,
		maxFanout:  DefaultMaxFanout,
		visited:    make(map[string]struct{}),
	}
}

// done releases the walk's deadline timer. Call when the top-level Check
// returns.
func (w *walkState) done() { w.cancel() }

// enter marks (subject, permission, object) visited at depth, returning
// errIndeterminate if any budget is exceeded or the walk's deadline has
// passed, and (false, nil) if this node was already visited on this walk
// (a cycle — pruned silently, not an error).
func (w *walkState) enter(depth int, subj Subject, permission string, obj Object) (bool, error) {
	select {
	case <-w.ctx.Done():
		return false, errIndeterminate
	default:
	}
	if depth > w.maxDepth {
		return false, errIndeterminate
	}
	if len(w.visited) >= w.maxVisited {
		return false, errIndeterminate
	}
	key := cacheKey("", subj, permission, obj, 0)
	if _, seen := w.visited[key]; seen {
		return false, nil
	}
	w.visited[key] = struct{}{}
	return true, nil
}

// checkFanout returns errIndeterminate if n exceeds the per-node fan-out
// cap (spec §4.5 "Fan-out from any single intermediate node is capped").
func (w *walkState) checkFanout(n int) error {
	if n > w.maxFanout {
		return errIndeterminate
	}
	return nil
}
