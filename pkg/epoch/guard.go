package epoch

// Guard is the scoped token returned by Collector.Pin. It witnesses that
// its owning goroutine may safely dereference objects retired at or after
// its participant's observed epoch, until Dispose is called. A Guard must
// be disposed on every exit path; Go's defer statement is the natural
// fit for a scoped-resource facility like this one.
type Guard struct {
	collector   *Collector
	participant *participant
	handle      *ParticipantHandle
	disposed    bool
}

// Dispose releases one level of pin on the guard's participant slot. If
// this was the outermost guard (pin depth reaches 0), the slot's observed
// epoch is reset to INACTIVE and the change is propagated into the
// hierarchical tree. Calling Dispose more than once on the same Guard is a
// no-op.
func (g *Guard) Dispose() {
	if g.disposed {
		return
	}
	g.disposed = true

	p := g.participant
	if depth := p.pinDepth.Add(-1); depth == 0 {
		p.observedEpoch.Store(uint64(INACTIVE))
		g.collector.tree.UpdateLocal(g.handle.idx, INACTIVE)
	}
}

// Epoch returns the epoch this guard's participant is currently pinned at,
// or INACTIVE if the guard has been disposed.
func (g *Guard) Epoch() Epoch {
	if g.disposed {
		return INACTIVE
	}
	return g.participant.epoch()
}

// DeferFunc enqueues destroy to run once the retirement's grace period has
// elapsed. destroy must be safe to invoke from any goroutine, since the
// collector itself runs it, not necessarily the goroutine that called
// DeferFunc. Panics with ErrNotPinned if the guard has already been
// disposed, since a retirement deferred outside any guard's scope cannot
// be guaranteed reachable.
func (g *Guard) DeferFunc(destroy func()) {
	if g.disposed {
		panic(ErrNotPinned)
	}
	g.collector.deferInto(retirement{destroy: destroy})
}

// Defer is the typed counterpart to DeferFunc: it binds ptr and destroy
// into a single retirement closure, the dynamic-dispatch capability
// (opaque pointer + destructor) that retirement itself wraps. Idiomatic Go
// has no vtable/void-pointer pairing to reproduce, so a generic function
// capturing the bound closure serves the same role. Defer is a free
// function, not a method, because Go methods cannot carry their own type
// parameters.
func Defer[T any](g *Guard, ptr *T, destroy func(*T)) {
	g.DeferFunc(func() { destroy(ptr) })
}
