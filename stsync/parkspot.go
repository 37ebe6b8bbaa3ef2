package stsync

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// ParkSpot is an OS-level single-thread sleep/wake handle: a one-shot
// counting semaphore with initial count zero. Set posts it; Wait consumes
// it, blocking up to a timeout and honoring caller-requested interruption
// via ctx.
//
// Grounded on mono/metadata/parkspot.{c,h}: the original backs this with a
// Win32 event / pthread condvar pair behind a tiny interface (set/wait). We
// get the same one-shot semantics for free from a weight-1
// golang.org/x/sync/semaphore.Weighted: Release(1) is "set", and
// Acquire(ctx, 1) is a timed, cancellable "wait".
type ParkSpot struct {
	sem *semaphore.Weighted
}

// NewParkSpot allocates a park spot. Allocation is intentionally lazy in
// Parker.ParkEx: a parker that never blocks never needs one.
//
// semaphore.Weighted starts with its full weight available, the opposite of
// the zero-initial-count semaphore this type models, so we drain the single
// unit immediately: the first real Acquire (in Wait) then blocks until a
// matching Release (Set) posts it back.
func NewParkSpot() *ParkSpot {
	p := &ParkSpot{sem: semaphore.NewWeighted(1)}
	p.sem.Acquire(context.Background(), 1)
	return p
}

// Set posts the park spot, waking a single waiter (or the next caller to
// Wait, if none is currently waiting).
func (p *ParkSpot) Set() {
	p.sem.Release(1)
}

// Wait blocks until Set is called, the timeout elapses, or ctx is
// cancelled. Returns WaitSuccess, WaitTimeout, or WaitInterrupted.
func (p *ParkSpot) Wait(ctx context.Context, timeoutMs int32) int32 {
	if timeoutMs == Infinite {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return WaitInterrupted
		}
		return WaitSuccess
	}

	wctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	err := p.sem.Acquire(wctx, 1)
	if err == nil {
		return WaitSuccess
	}
	if ctx.Err() != nil {
		return WaitInterrupted
	}
	return WaitTimeout
}
