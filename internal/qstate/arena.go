package qstate

import (
	"errors"
	"sync"
)

var (
	// ErrDependencyLoop is returned when attaching a sub-query would
	// create a cycle in the super/sub graph (spec.md §4.1).
	ErrDependencyLoop = errors.New("qstate: attaching sub-query would create a dependency loop")
	// ErrMaxDepth is returned when a sub-query's depth would exceed the
	// arena's configured maximum (spec.md §4.1, default 6-8).
	ErrMaxDepth = errors.New("qstate: maximum sub-query depth exceeded")
)

// Arena owns one worker's query states, addressed by stable integer index
// (spec.md §9's arena-allocated query states design note). One Arena is
// never shared between workers: spec.md §5 requires sub-queries to run on
// the super's own worker.
type Arena struct {
	mu       sync.Mutex
	pool     *Pool[QueryState]
	states   []*QueryState
	free     []int
	maxDepth int
}

func NewArena(maxDepth int) *Arena {
	return &Arena{
		pool:     NewPool(func() *QueryState { return &QueryState{ModuleData: make(map[int]any)} }),
		maxDepth: maxDepth,
	}
}

// New allocates a fresh, unlinked top-level QueryState (depth 0).
func (a *Arena) New() *QueryState {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.allocLocked()
	qs := a.pool.Get()
	qs.reset()
	qs.Index = idx
	a.states[idx] = qs
	return qs
}

// NewSub allocates a fresh QueryState from the pool without registering it
// in the arena's index space. It is meant for a query the caller intends
// to pass straight to AttachSub, which performs the one and only
// allocLocked call and assigns the real stable index; a QueryState
// obtained from New (which already indexes it) must never also be handed
// to AttachSub; that would allocate and leak a second slot.
func (a *Arena) NewSub() *QueryState {
	qs := a.pool.Get()
	qs.reset()
	return qs
}

// DiscardSub returns a QueryState obtained from NewSub to the pool without
// ever having been indexed, for when AttachSub rejects it (dependency loop
// or max depth).
func (a *Arena) DiscardSub(qs *QueryState) {
	a.pool.Put(qs)
}

func (a *Arena) allocLocked() int {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		return idx
	}
	a.states = append(a.states, nil)
	return len(a.states) - 1
}

// Get returns the live QueryState at idx, or nil if it has been released.
func (a *Arena) Get(idx int) *QueryState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx < 0 || idx >= len(a.states) {
		return nil
	}
	return a.states[idx]
}

// Release returns a finished QueryState's slot and backing object to the
// arena and pool respectively.
func (a *Arena) Release(idx int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx < 0 || idx >= len(a.states) || a.states[idx] == nil {
		return
	}
	qs := a.states[idx]
	a.states[idx] = nil
	a.free = append(a.free, idx)
	a.pool.Put(qs)
}

// AttachSub links sub as a dependent of the QueryState at superIdx, after
// checking for (qkey, depth) cycles and the configured max depth (spec.md
// §4.1). On success sub is assigned a stable index and returned; on
// failure sub is left unindexed and the caller should report
// dependency-loop or abort with servfail per its max-depth policy.
func (a *Arena) AttachSub(superIdx int, sub *QueryState) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	super := a.at(superIdx)
	if super == nil {
		return -1, errors.New("qstate: attach to unknown super index")
	}
	sub.Depth = super.Depth + 1
	if sub.Depth > a.maxDepth {
		return -1, ErrMaxDepth
	}
	if a.wouldCycleLocked(superIdx, sub.Query.Key()) {
		return -1, ErrDependencyLoop
	}

	idx := a.allocLocked()
	sub.Index = idx
	sub.Supers = append(sub.Supers, superIdx)
	a.states[idx] = sub
	super.Subs = append(super.Subs, idx)
	return idx, nil
}

func (a *Arena) at(idx int) *QueryState {
	if idx < 0 || idx >= len(a.states) {
		return nil
	}
	return a.states[idx]
}

// wouldCycleLocked walks from superIdx up through its own supers, looking
// for qkey already present anywhere in the chain (spec.md §4.1:
// "Cycles in the super/sub graph are detected by (qkey, depth) before
// attaching").
func (a *Arena) wouldCycleLocked(superIdx int, qkey string) bool {
	visited := make(map[int]bool)
	var walk func(idx int) bool
	walk = func(idx int) bool {
		if visited[idx] {
			return false
		}
		visited[idx] = true
		s := a.at(idx)
		if s == nil {
			return false
		}
		if s.Query.Key() == qkey {
			return true
		}
		for _, sup := range s.Supers {
			if walk(sup) {
				return true
			}
		}
		return false
	}
	return walk(superIdx)
}
