package stsync

import "go.uber.org/atomic"

// ThreadID is the Go stand-in for the host's thread_small_id() collaborator:
// a stable, non-zero identifier used by the monitor to record lock
// ownership. Go exposes no stable per-goroutine identity, so callers
// allocate one ThreadID per goroutine (typically once, near the top of the
// goroutine's body) and pass it to every blocking call they make.
//
// Grounded on spec.md §1's external collaborator list; the allocation
// scheme itself mirrors mono/metadata/st-handle.c's incrementing counter.
type ThreadID struct {
	id uint32
}

var nextThreadID atomic.Uint32

// NewThreadID allocates a fresh, non-zero small id.
func NewThreadID() *ThreadID {
	return &ThreadID{id: nextThreadID.Inc()}
}

// ID returns the small id as a plain uint32, e.g. for recording lock
// ownership in a packed state word.
func (t *ThreadID) ID() uint32 { return t.id }
