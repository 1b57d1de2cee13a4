package epoch

import "sync/atomic"

// Statistics is a point-in-time snapshot of a Collector's counters.
// Grounded on tur/pkg/turdb/pool.go's PoolStats snapshot-struct pattern.
// Always compiled in; nexusepoch has no build-tag equivalent of Cargo
// features, and four atomic counters are cheap enough that gating them
// buys nothing.
type Statistics struct {
	// Advances is the number of successful global-epoch advancements.
	Advances int64

	// FailedAdvances is the number of advancement attempts that did not
	// advance: refused because some participant had not yet observed the
	// current epoch, or beaten by a concurrent advance to the
	// compare-and-swap. These are expected, not errors.
	FailedAdvances int64

	// Collections is the number of garbage bag drains that ran at least
	// one destructor; draining an empty bag is not counted.
	Collections int64

	// ObjectsCollected is the cumulative number of retirements whose
	// destructors have run.
	ObjectsCollected int64
}

// statCounters holds the live atomic counters a Collector updates;
// Statistics() copies them out into an immutable snapshot.
type statCounters struct {
	advances         atomic.Int64
	failedAdvances   atomic.Int64
	collections      atomic.Int64
	objectsCollected atomic.Int64
}

func (s *statCounters) snapshot() Statistics {
	return Statistics{
		Advances:         s.advances.Load(),
		FailedAdvances:   s.failedAdvances.Load(),
		Collections:      s.collections.Load(),
		ObjectsCollected: s.objectsCollected.Load(),
	}
}
