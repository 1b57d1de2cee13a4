// Package epoch implements epoch-based memory reclamation (EBR): a
// process-wide Collector issues per-goroutine Guards, tracks the epoch each
// Guard last observed, advances a monotone global epoch when it is safe to
// do so, and reclaims retired objects after a two-epoch grace period.
//
// A hierarchical, fanout-4 aggregation tree (HierarchicalTree) answers "what
// is the smallest epoch any pinned goroutine holds" in O(log T) rather than
// O(T), where T is the number of registered participants.
package epoch

import "math"

// Epoch is a monotone counter labeling a time interval during which a set
// of objects is reachable. Arithmetic on it wraps; the protocol only ever
// compares epochs within a window of at most two steps, so wraparound is
// behaviorally irrelevant at 64 bits.
type Epoch uint64

// INACTIVE is a sentinel distinct from every valid epoch. It marks a
// participant slot that is not currently pinned.
const INACTIVE Epoch = math.MaxUint64

// EpochRingSize is the number of garbage bags kept per collector. Only bag
// (e-2) mod EpochRingSize is ever reclaimed when the global epoch is e.
const EpochRingSize = 4
