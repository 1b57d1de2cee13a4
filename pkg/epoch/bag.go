package epoch

// retirement is a dynamic-dispatch capability for destructors: a pair of
// (opaque pointer, destructor). In idiomatic Go there is no vtable/void-
// pointer pairing to reproduce, since a closure already carries both
// halves, so retirement simply wraps the bound destructor call. Defer (in
// guard.go) is what preserves that pair-shaped call site for typed callers.
type retirement struct {
	destroy func()
}

// GarbageBag is a per-epoch, append-only queue of retired destruction
// closures. A bag must never be drained concurrently with an append. The
// bag has no internal lock: the Collector serializes every append to and
// drain of a bag behind that bag's own mutex.
type GarbageBag struct {
	items []retirement
}

// newGarbageBag returns an empty bag with a small pre-allocation, mirroring
// tur/pkg/cowbtree's preference for pre-sized slices on hot paths.
func newGarbageBag() *GarbageBag {
	return &GarbageBag{items: make([]retirement, 0, 16)}
}

// defer_ appends a retirement. The only failure mode is allocation failure,
// which is fatal and is therefore left to Go's own
// out-of-memory behavior rather than surfaced as an error return.
func (b *GarbageBag) defer_(r retirement) {
	b.items = append(b.items, r)
}

// drain invokes every retirement's destructor exactly once, in insertion
// order, then clears the bag. The caller must have exclusive access (no
// concurrent defer_ into this same bag); the Collector supplies that by
// holding the bag's mutex around the drain.
func (b *GarbageBag) drain() int {
	n := len(b.items)
	for _, r := range b.items {
		r.destroy()
	}
	// Release references promptly rather than just resetting len to 0.
	clear(b.items)
	b.items = b.items[:0]
	return n
}

// len reports the number of pending retirements.
func (b *GarbageBag) len() int {
	return len(b.items)
}

// isEmpty reports whether the bag holds no pending retirements.
func (b *GarbageBag) isEmpty() bool {
	return len(b.items) == 0
}
