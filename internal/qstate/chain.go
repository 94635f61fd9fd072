package qstate

// Chain drives a QueryState through an ordered list of Modules
// (validator over iterator, by default per spec.md §4.1/§4.2/§4.3),
// walking down on next-module and back up on finished, the same shape as
// original_source/trunk/services/mesh.c's module iteration loop.
type Chain struct {
	Modules []Module
}

func NewChain(modules ...Module) *Chain {
	return &Chain{Modules: modules}
}

// Run drives qs with the initial event until it waits, finishes, or
// errors. A module returning DispositionNextModule hands qs to the next
// module down the chain with EventPassThrough; DispositionFinished walks
// back up to the previous module the same way, or ends the query if
// already at the top of the chain.
func (c *Chain) Run(qs *QueryState, ev Event) Disposition {
	for {
		if qs.ModuleIndex < 0 || qs.ModuleIndex >= len(c.Modules) {
			qs.Done = true
			return DispositionFinished
		}
		mod := c.Modules[qs.ModuleIndex]
		d := mod.Operate(qs, ev)

		switch d {
		case DispositionWait:
			return DispositionWait

		case DispositionNextModule:
			qs.ModuleIndex++
			if qs.ModuleIndex >= len(c.Modules) {
				qs.Done = true
				return DispositionFinished
			}
			ev = EventPassThrough
			continue

		case DispositionFinished:
			if qs.ModuleIndex == 0 {
				qs.Done = true
				return DispositionFinished
			}
			qs.ModuleIndex--
			ev = EventPassThrough
			continue

		default: // DispositionError
			qs.Done = true
			qs.ModuleIndex = 0
			return DispositionError
		}
	}
}

// FinishSub is called when the sub-query at subIdx reaches finished: it
// re-enters InformSuper on every super's currently active module so the
// super can integrate the sub's result, then re-runs the super's chain
// with EventSubQueryFinished (spec.md §4.1).
func (c *Chain) FinishSub(arena *Arena, subIdx int) {
	sub := arena.Get(subIdx)
	if sub == nil {
		return
	}
	for _, superIdx := range append([]int(nil), sub.Supers...) {
		c.Resume(arena, superIdx, sub)
	}
}

// Resume integrates one finished sub-query into a specific super and
// re-runs the super's chain, returning the super's resulting disposition.
// Unlike FinishSub it targets exactly one super, which RunToCompletion
// needs to track whether that super is now done.
func (c *Chain) Resume(arena *Arena, superIdx int, sub *QueryState) Disposition {
	super := arena.Get(superIdx)
	if super == nil {
		return DispositionError
	}
	if super.ModuleIndex >= 0 && super.ModuleIndex < len(c.Modules) {
		c.Modules[super.ModuleIndex].InformSuper(sub, super)
	}
	return c.Run(super, EventSubQueryFinished)
}

// RunToCompletion drives qs (and, depth-first, every sub-query it spawns
// via the same Arena) synchronously until qs itself reaches Finished or
// Error, pumping the suspend/resume protocol that a real engine would
// drive from its outbound I/O completion events. It returns DispositionError
// if no sub-query can make progress (a deadlock in the dependency graph).
func (c *Chain) RunToCompletion(arena *Arena, qs *QueryState) Disposition {
	d := c.Run(qs, EventNewQuery)
	for d == DispositionWait {
		advanced := false
		for _, subIdx := range append([]int(nil), qs.Subs...) {
			sub := arena.Get(subIdx)
			if sub == nil || sub.Done {
				continue
			}
			c.RunToCompletion(arena, sub)
			if sub.Done {
				d = c.Resume(arena, qs.Index, sub)
				advanced = true
			}
		}
		if !advanced {
			return DispositionError
		}
	}
	return d
}
