package epoch

import (
	"nexusepoch/internal/cacheline"
)

// DefaultBranchingFactor is the tree's fixed fanout B.
const DefaultBranchingFactor = 4

// DefaultMaxDepth bounds the tree height; B^DefaultMaxDepth is the largest
// capacity the tree will ever round up to (256 at the defaults, matching
// MAX_PARTICIPANTS).
const DefaultMaxDepth = 4

// HierarchicalTree is a complete, fanout-B tree of aggregated epoch minima
// over a leaf array of per-participant observed epochs. Internal nodes
// store the minimum of their non-INACTIVE children; a node whose children
// are all INACTIVE is itself INACTIVE. It answers "what is the smallest
// epoch any pinned participant holds" in O(log_B capacity) via the root,
// without scanning every leaf.
//
// Go's sync/atomic already gives every load and store sequentially
// consistent semantics, so there is no weaker acquire/release ordering to
// opt into here (every access below is effectively SeqCst).
type HierarchicalTree struct {
	branching int
	capacity  int
	depth     int

	// leaves and aggregation are flanked-padded per element (cacheline.
	// PaddedCounter) rather than packed []atomic.Uint64, so concurrent
	// updates to neighboring leaves or siblings in the same aggregation
	// level never fight over a shared cache line.
	leaves []cacheline.PaddedCounter

	// aggregation[i] holds the i-th level above the leaves. aggregation[0]
	// is the level of immediate leaf-parents; aggregation[depth-1] is the
	// root (a single node).
	aggregation [][]cacheline.PaddedCounter
}

// computeDepth rounds requestedCapacity up to the next power of branching
// and returns the resulting (capacity, depth) pair. A capacity that already
// sits exactly on a power-of-branching boundary is NOT bumped an extra
// level (the loop condition is strict "<", not "<=").
func computeDepth(requestedCapacity, branching int) (capacity, depth int) {
	depth = 1
	size := branching
	for size < requestedCapacity {
		depth++
		size *= branching
	}
	return size, depth
}

// newHierarchicalTree builds a tree sized for at least requestedCapacity
// leaves, rounded up per computeDepth. Panics if the rounded depth would
// exceed maxDepth, the same fatal "capacity exceeded" policy applied
// elsewhere to participant slot exhaustion, applied here to tree sizing.
func newHierarchicalTree(requestedCapacity, branching, maxDepth int) *HierarchicalTree {
	capacity, depth := computeDepth(requestedCapacity, branching)
	if depth > maxDepth {
		panic("epoch: hierarchical tree capacity exceeds configured max depth")
	}

	t := &HierarchicalTree{
		branching: branching,
		capacity:  capacity,
		depth:     depth,
		leaves:    make([]cacheline.PaddedCounter, capacity),
	}
	for i := range t.leaves {
		t.leaves[i].Value.Store(uint64(INACTIVE))
	}

	t.aggregation = make([][]cacheline.PaddedCounter, depth)
	levelSize := capacity / branching
	for level := 0; level < depth; level++ {
		t.aggregation[level] = make([]cacheline.PaddedCounter, levelSize)
		for i := range t.aggregation[level] {
			t.aggregation[level][i].Value.Store(uint64(INACTIVE))
		}
		levelSize /= branching
	}
	return t
}

// NewHierarchicalTree builds a standalone tree sized for at least
// requestedCapacity leaves, as a standalone tree independent of any collector.
// Collector builds its own tree internally with the same constructor,
// sized to MaxParticipants; this entry point is for collaborators and
// tests that want the tree on its own.
func NewHierarchicalTree(requestedCapacity int, opts ...Option) *HierarchicalTree {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newHierarchicalTree(requestedCapacity, cfg.BranchingFactor, cfg.MaxDepth)
}

// Capacity returns the rounded leaf capacity (a power of the branching
// factor).
func (t *HierarchicalTree) Capacity() int { return t.capacity }

// Depth returns the tree height in aggregation levels above the leaves.
func (t *HierarchicalTree) Depth() int { return t.depth }

// UpdateLocal stores a new observed epoch for the leaf at leafIndex and
// propagates the change upward. Must only be called by the goroutine that
// owns that leaf's participant slot.
func (t *HierarchicalTree) UpdateLocal(leafIndex int, e Epoch) {
	t.leaves[leafIndex].Value.Store(uint64(e))
	t.propagateFrom(leafIndex)
}

// LocalEpoch reads the current value stored at leafIndex.
func (t *HierarchicalTree) LocalEpoch(leafIndex int) Epoch {
	return Epoch(t.leaves[leafIndex].Value.Load())
}

// propagateFrom recomputes every ancestor of leafIndex, one level at a
// time, from its children's current values. This is the tree's lazy
// upward-propagation update: only the single root-to-leaf path touched by
// this change is recomputed, not the whole tree.
func (t *HierarchicalTree) propagateFrom(leafIndex int) {
	childIndex := leafIndex
	for level := 0; level < t.depth; level++ {
		parentIndex := childIndex / t.branching
		start := parentIndex * t.branching

		var min Epoch = INACTIVE
		if level == 0 {
			for i := start; i < start+t.branching; i++ {
				if v := Epoch(t.leaves[i].Value.Load()); v != INACTIVE && (min == INACTIVE || v < min) {
					min = v
				}
			}
		} else {
			below := t.aggregation[level-1]
			for i := start; i < start+t.branching; i++ {
				if v := Epoch(below[i].Value.Load()); v != INACTIVE && (min == INACTIVE || v < min) {
					min = v
				}
			}
		}
		t.aggregation[level][parentIndex].Value.Store(uint64(min))
		childIndex = parentIndex
	}
}

// aggregateAll fully recomputes every internal node bottom-up from current
// leaf values. This is the strongly-consistent "refresh" operation for
// callers that need a strongly consistent snapshot; in particular,
// Collector.TryAdvance calls it immediately before the gating root read,
// closing the race where a concurrent leaf update has not yet finished
// propagating.
func (t *HierarchicalTree) aggregateAll() {
	for level := 0; level < t.depth; level++ {
		nodes := t.aggregation[level]
		for parentIndex := range nodes {
			start := parentIndex * t.branching
			var min Epoch = INACTIVE
			if level == 0 {
				for i := start; i < start+t.branching; i++ {
					if v := Epoch(t.leaves[i].Value.Load()); v != INACTIVE && (min == INACTIVE || v < min) {
						min = v
					}
				}
			} else {
				below := t.aggregation[level-1]
				for i := start; i < start+t.branching; i++ {
					if v := Epoch(below[i].Value.Load()); v != INACTIVE && (min == INACTIVE || v < min) {
						min = v
					}
				}
			}
			nodes[parentIndex].Value.Store(uint64(min))
		}
	}
}

// Refresh recomputes the entire tree from its leaves and returns the
// resulting root value. Exported for collaborators (and the collector)
// that need a strongly-consistent snapshot rather than the lazy one.
func (t *HierarchicalTree) Refresh() Epoch {
	t.aggregateAll()
	return t.rootValue()
}

func (t *HierarchicalTree) rootValue() Epoch {
	root := t.aggregation[t.depth-1]
	return Epoch(root[0].Value.Load())
}

// GlobalMinimum returns the smallest observed epoch across all leaves, or
// INACTIVE if none are active. It reads the current aggregation state
// without forcing a refresh first: under concurrent leaf updates it may
// observe a value that is stale-low (a leaf updated to a larger epoch after
// the last propagation still counts toward the minimum), which is the
// conservative direction this tree is meant to err in, since it never
// reports a minimum higher than reality.
func (t *HierarchicalTree) GlobalMinimum() Epoch {
	if t.capacity <= t.branching {
		var min Epoch = INACTIVE
		for i := range t.leaves {
			if v := Epoch(t.leaves[i].Value.Load()); v != INACTIVE && (min == INACTIVE || v < min) {
				min = v
			}
		}
		return min
	}
	return t.rootValue()
}

// CanReclaim reports whether at least one participant is active and every
// active participant has observed an epoch strictly greater than e. It
// reports false when no participant is active.
func (t *HierarchicalTree) CanReclaim(e Epoch) bool {
	min := t.GlobalMinimum()
	return min != INACTIVE && min > e
}

// ActiveCount returns the number of leaves currently holding a non-INACTIVE
// epoch.
func (t *HierarchicalTree) ActiveCount() int {
	count := 0
	for i := range t.leaves {
		if Epoch(t.leaves[i].Value.Load()) != INACTIVE {
			count++
		}
	}
	return count
}
