package orchestrators

import (
	"errors"
	"sync"
)

// ErrRunNotFound is returned when a run id is not live in the registry.
var ErrRunNotFound = errors.New("dispatch run not found")

// DefaultRetainFinished is how many finished runs stay in memory.
const DefaultRetainFinished = 50

// RunRegistry tracks live and recently finished runs by id.
type RunRegistry struct {
	mu     sync.RWMutex
	runs   map[string]*DispatchRun
	order  []string
	retain int
}

// NewRunRegistry creates a registry keeping up to retain finished runs.
// PRE: retain >= 0
func NewRunRegistry(retain int) *RunRegistry {
	if retain < 0 {
		retain = DefaultRetainFinished
	}
	return &RunRegistry{runs: make(map[string]*DispatchRun), retain: retain}
}

// Add registers run and evicts the oldest finished runs beyond the retention limit.
// POST: Get(run.ID()) returns run
func (g *RunRegistry) Add(run *DispatchRun) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.runs[run.ID()]; !ok {
		g.order = append(g.order, run.ID())
	}
	g.runs[run.ID()] = run
	g.evictLocked()
}

func (g *RunRegistry) evictLocked() {
	finished := 0
	for _, id := range g.order {
		if isDone(g.runs[id]) {
			finished++
		}
	}
	if finished <= g.retain {
		return
	}
	kept := g.order[:0]
	for _, id := range g.order {
		if finished > g.retain && isDone(g.runs[id]) {
			delete(g.runs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	g.order = kept
}

func isDone(run *DispatchRun) bool {
	select {
	case <-run.Done():
		return true
	default:
		return false
	}
}

// Get returns the run with id.
func (g *RunRegistry) Get(id string) (*DispatchRun, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	run, ok := g.runs[id]
	return run, ok
}

// List returns registered runs in start order.
func (g *RunRegistry) List() []*DispatchRun {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*DispatchRun, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.runs[id])
	}
	return out
}

// Active returns the number of runs still sending.
func (g *RunRegistry) Active() int {
	n := 0
	for _, run := range g.List() {
		if !isDone(run) {
			n++
		}
	}
	return n
}

// CancelAll cancels every live run and returns them so callers can wait.
func (g *RunRegistry) CancelAll() []*DispatchRun {
	var live []*DispatchRun
	for _, run := range g.List() {
		if !isDone(run) {
			run.Cancel()
			live = append(live, run)
		}
	}
	return live
}
