package epoch

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// participant is one slot in the collector's fixed-size registration table.
// Exactly one goroutine owns a slot at a time; any goroutine running
// try_advance may read observedEpoch. Fields are laid out with cache-line
// padding on both sides so that neighboring slots in the backing array never
// share a cache line.
type participant struct {
	_ cpu.CacheLinePad

	// observedEpoch is the epoch this participant last pinned at, or
	// INACTIVE if the slot is not currently pinned. Written only by the
	// owning goroutine; read by any goroutine computing a minimum.
	observedEpoch atomic.Uint64

	// inUse marks whether a goroutine currently owns this slot. 0 = free,
	// 1 = claimed. Claiming is a single CAS 0->1; a slot is never released
	// back to the pool once claimed, since registration lasts the
	// process's lifetime.
	inUse atomic.Uint32

	// pinDepth counts nested (re-entrant) pin calls on this slot. Only the
	// owning goroutine increments/decrements it.
	pinDepth atomic.Int64

	_ cpu.CacheLinePad
}

// newParticipant returns a participant slot in the unclaimed, unpinned
// state. Some EBR designs give each participant a local_garbage bag that
// batches deferrals before flushing to a global bag; nexusepoch defers
// directly to the appropriate global bag instead (see Collector.deferInto),
// since that batching isn't required for correctness and would need
// per-batch epoch bookkeeping to stay correct across a changing global
// epoch, for no payoff at this engine's target contention levels.
func newParticipant() *participant {
	p := &participant{}
	p.observedEpoch.Store(uint64(INACTIVE))
	return p
}

// tryClaim attempts to transition this slot from free to owned. Returns
// true on success. Uses a sequentially consistent CAS.
func (p *participant) tryClaim() bool {
	return p.inUse.CompareAndSwap(0, 1)
}

func (p *participant) isActive() bool {
	return p.inUse.Load() == 1
}

// epoch returns the last epoch this slot pinned at, or INACTIVE.
func (p *participant) epoch() Epoch {
	return Epoch(p.observedEpoch.Load())
}
