package epoch

import "errors"

// Sentinel errors, exported so a caller that recovers a panic at a process
// boundary can still errors.Is against them. None of these are ever
// returned from the hot path (pin/defer/try_advance), since capacity
// exhaustion is fatal, not recoverable. Bag allocation failure has no
// sentinel of its own here: a GarbageBag grows via Go's append, and Go has
// no catchable allocation-failure error to attach one to, so it surfaces
// as an unrecoverable out-of-memory crash instead, without a Go-side
// sentinel to produce it.
var (
	// ErrParticipantsExhausted is panicked with when every slot in the
	// collector's participant table is already claimed.
	ErrParticipantsExhausted = errors.New("epoch: participant table exhausted")

	// ErrNotPinned is panicked with if Defer is called through a Guard
	// that has already been disposed.
	ErrNotPinned = errors.New("epoch: defer called without an active guard")
)
