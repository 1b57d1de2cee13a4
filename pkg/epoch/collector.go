// Package epoch's Collector is the process-wide coordinator: it issues
// Guards, tracks each participant's observed epoch, advances the global
// epoch when safe, and reclaims retired objects after a two-epoch grace
// period.
package epoch

import (
	"sync"
	"sync/atomic"
)

// ParticipantHandle is the explicit substitute for hosts without stable
// thread-locals: a goroutine calls Join once, keeps the returned handle for
// its lifetime, and threads it through every subsequent Pin call.
type ParticipantHandle struct {
	idx int
}

// Collector is a process-wide EBR coordinator. The zero value is not
// usable; construct one with NewCollector.
type Collector struct {
	cfg Config

	globalEpoch atomic.Uint64

	participants []*participant
	tree         *HierarchicalTree

	bags    [EpochRingSize]*GarbageBag
	bagLock [EpochRingSize]sync.Mutex

	nextFreeSlot atomic.Int64 // scan hint; slot-claim still verifies via CAS
	opCounter    atomic.Int64

	stats statCounters

	// keyed caches the handle assigned to an arbitrary caller-supplied key
	// (e.g. a goroutine-scoped pointer), so repeat PinKeyed calls from the
	// same logical caller skip Join's linear scan. Go has no gettid(), so
	// this sync.Map stands in for a thread-local slot cache.
	keyed sync.Map // any -> *ParticipantHandle

	closed atomic.Bool
}

// NewCollector allocates the participant table, the four garbage bags, and
// the hierarchical tree.
func NewCollector(opts ...Option) *Collector {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Collector{
		cfg:          cfg,
		participants: make([]*participant, cfg.MaxParticipants),
		tree:         newHierarchicalTree(cfg.MaxParticipants, cfg.BranchingFactor, cfg.MaxDepth),
	}
	for i := range c.participants {
		c.participants[i] = newParticipant()
	}
	for i := range c.bags {
		c.bags[i] = newGarbageBag()
	}
	return c
}

// CurrentEpoch returns the current global epoch. Observational only (spec
// §6 collector.current_epoch).
func (c *Collector) CurrentEpoch() Epoch {
	return Epoch(c.globalEpoch.Load())
}

// Statistics returns a snapshot of the collector's counters.
func (c *Collector) Statistics() Statistics {
	return c.stats.snapshot()
}

// Join claims a free participant slot for the calling goroutine and
// returns a handle it should hold and reuse for the rest of its life.
// Panics with ErrParticipantsExhausted if every slot is already claimed, a
// bounded-capacity policy that is fatal by design.
func (c *Collector) Join() *ParticipantHandle {
	n := len(c.participants)
	start := int(c.nextFreeSlot.Load())
	for offset := 0; offset < n; offset++ {
		i := (start + offset) % n
		if c.participants[i].tryClaim() {
			c.nextFreeSlot.Store(int64((i + 1) % n))
			return &ParticipantHandle{idx: i}
		}
	}
	panic(ErrParticipantsExhausted)
}

// PinKeyed is a convenience wrapper around Join/Pin for callers that have
// some stable, comparable identity for the calling goroutine (e.g. a
// pointer owned by that goroutine) but do not want to manage a
// ParticipantHandle themselves. The handle is cached on first use and
// reused on subsequent calls with the same key.
func (c *Collector) PinKeyed(key any) *Guard {
	if h, ok := c.keyed.Load(key); ok {
		return c.Pin(h.(*ParticipantHandle))
	}
	h := c.Join()
	actual, _ := c.keyed.LoadOrStore(key, h)
	return c.Pin(actual.(*ParticipantHandle))
}

// Pin acquires a guard over handle's participant slot. Nested
// (re-entrant) pins on the same handle are supported via pin_depth: only
// the outermost pin re-reads the global epoch and propagates it into the
// hierarchical tree; inner pins reuse the epoch the outermost pin already
// published.
func (c *Collector) Pin(h *ParticipantHandle) *Guard {
	p := c.participants[h.idx]

	depth := p.pinDepth.Add(1)
	if depth == 1 {
		e := Epoch(c.globalEpoch.Load())
		p.observedEpoch.Store(uint64(e))
		c.tree.UpdateLocal(h.idx, e)
	}

	if c.opCounter.Add(1)%c.cfg.GCFrequency == 0 {
		c.TryAdvanceAndCollect()
	}

	return &Guard{collector: c, participant: p, handle: h}
}

// TryAdvance attempts to move the global epoch forward by one.
// Refuses if any active participant has not yet observed the current
// epoch. Advisory: callers never rely on it succeeding. Calls Refresh on
// the hierarchical tree immediately before the gating root read, closing
// a lazy-propagation race that can otherwise occur; this collector always
// consults the tree rather than linearly scanning participants.
func (c *Collector) TryAdvance() bool {
	e := Epoch(c.globalEpoch.Load())

	m := c.tree.Refresh()
	if m != INACTIVE && m < e {
		c.stats.failedAdvances.Add(1)
		return false
	}

	if c.globalEpoch.CompareAndSwap(uint64(e), uint64(e+1)) {
		c.stats.advances.Add(1)
		return true
	}
	c.stats.failedAdvances.Add(1)
	return false
}

// TryAdvanceAndCollect calls TryAdvance and, on success, drains the bag
// that is now guaranteed unreachable: (e' - 2) mod EpochRingSize, where e'
// is the new global epoch.
func (c *Collector) TryAdvanceAndCollect() bool {
	if !c.TryAdvance() {
		return false
	}
	e := c.globalEpoch.Load()
	if e >= 2 {
		c.drainBag(int((e - 2) % EpochRingSize))
	}
	return true
}

func (c *Collector) drainBag(index int) {
	c.bagLock[index].Lock()
	n := c.bags[index].drain()
	c.bagLock[index].Unlock()
	if n > 0 {
		c.stats.collections.Add(1)
		c.stats.objectsCollected.Add(int64(n))
	}
}

// deferInto enqueues a retirement into the bag for the epoch current at the
// moment of the call. The epoch is read once and the retirement placed
// directly into the corresponding global bag. Some EBR designs give each
// participant a local bag that batches deferrals before flushing; that
// isn't needed here for correctness, so nexusepoch skips it and goes
// straight to the shared global bag.
func (c *Collector) deferInto(r retirement) {
	e := c.globalEpoch.Load()
	idx := int(e % EpochRingSize)
	c.bagLock[idx].Lock()
	c.bags[idx].defer_(r)
	c.bagLock[idx].Unlock()
}

// ActiveParticipants returns the number of participant slots currently
// pinned, scanning the participant table directly rather than the
// hierarchical tree. Grounded on tur/pkg/cowbtree/epoch.go's
// ActiveReaderCount; useful as a diagnostic cross-check against
// tree.ActiveCount() since the two are computed from independent state.
func (c *Collector) ActiveParticipants() int {
	n := 0
	for _, p := range c.participants {
		if p.isActive() && p.epoch() != INACTIVE {
			n++
		}
	}
	return n
}

// Shutdown drains all four bags unconditionally, running every remaining
// retirement's destructor exactly once, regardless of epoch. Idempotent:
// calling Shutdown more than once is a no-op after the first call.
func (c *Collector) Shutdown() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	for i := range c.bags {
		c.drainBag(i)
	}
}
