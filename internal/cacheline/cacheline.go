// Package cacheline re-exports golang.org/x/sys/cpu's cache-line padding
// primitive for use across nexusepoch's collaborator packages, and adds a
// couple of sizing helpers for structures that pad an array of items
// rather than a single struct's two ends.
//
// Grounded on other_examples/.../haraldrudell-parl's spin-lock.go, which
// pads a mutex with `var _ cpu.CacheLinePad` fields to keep it off its
// neighbors' cache lines; the false-sharing concern for a packed array of
// participant slots or aggregation nodes is the same one.
package cacheline

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Pad is a zero-sized (for alignment purposes, cache-line-sized in
// practice) field type. Embed one before and after the hot fields of a
// struct that will live in an array alongside other instances of itself,
// so that false sharing between array neighbors cannot occur.
type Pad = cpu.CacheLinePad

// Size is the padding width x/sys/cpu targets for the current
// architecture. It is informational only (callers pad by embedding Pad
// fields, not by computing byte counts), but collaborators that lay out
// their own flat byte buffers (e.g. a custom slab allocator) can use it to
// size stride between entries.
const Size = int(unsafe.Sizeof(Pad{}))

// PaddedCounter is a single atomic counter flanked by cache-line padding,
// for use as the element type of a slice: plain `[]atomic.Uint64` packs
// eight counters per cache line, so concurrent writers to adjacent indices
// contend over the same line even though they touch unrelated counters.
// A `[]PaddedCounter` gives every element its own line.
type PaddedCounter struct {
	_     Pad
	Value atomic.Uint64
	_     Pad
}
