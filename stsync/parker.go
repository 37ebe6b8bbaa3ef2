package stsync

import (
	"context"

	"go.uber.org/atomic"
)

const (
	waitInProgress int32 = 1 << 31
	lockCountMask  int32 = (1 << 16) - 1
)

// Parker is a single-shot, per-wait synchronization object. A thread that is
// about to block allocates one (or reuses a stack-local one), registers it
// wherever it needs to be woken from, then parks on it. Exactly one of
// "parked thread observes a wake" and "parked thread observes a cancel" ever
// wins a given wait: TryLock and TryCancel race on the same lock-count field
// and only one can drive it to zero.
//
// Grounded on mono/utils/st.h's StParker / st_parker_* inline functions.
type Parker struct {
	next       atomic.Pointer[Parker] // used by Alerter's lock-free list
	state      atomic.Int32           // WAIT_IN_PROGRESS bit | 16-bit lock count
	waitStatus atomic.Int32
	spot       *ParkSpot
}

// Init resets the parker for a new wait with the given lock count (almost
// always 1; >1 is used when a single wake must be raced by several
// unparkers, none of which should win until all have arrived).
func (p *Parker) Init(count uint16) {
	p.state.Store(int32(count) | waitInProgress)
	p.waitStatus.Store(0)
	p.next.Store(nil)
}

// IsLocked reports whether the parker's lock count has already reached
// zero, i.e. whether it has already been claimed by a winning unparker.
func (p *Parker) IsLocked() bool {
	return p.state.Load()&lockCountMask == 0
}

// TryLock atomically decrements the lock count. It returns true exactly for
// the caller whose decrement drove the count to zero -- that caller becomes
// the unique thread responsible for unparking.
func (p *Parker) TryLock() bool {
	for {
		state := p.state.Load()
		if state&lockCountMask == 0 {
			return false
		}
		if p.state.CAS(state, state-1) {
			return state&lockCountMask == 1
		}
	}
}

// TryCancel atomically clears the lock count to zero while preserving the
// WAIT_IN_PROGRESS bit, returning true if the lock count was still non-zero
// (i.e. this call is the one that raced the transition). A successful
// TryCancel makes the caller responsible for unparking the parker with a
// cancellation status, exactly as a successful TryLock would.
func (p *Parker) TryCancel() bool {
	for {
		state := p.state.Load()
		if state&lockCountMask == 0 {
			return false
		}
		if p.state.CAS(state, state&waitInProgress) {
			return true
		}
	}
}

// UnparkInProgress publishes waitStatus and then clears the
// WAIT_IN_PROGRESS bit, reporting whether that bit was set beforehand. The
// status store happens-before the state-clearing CAS so a thread that
// observes the bit clear is guaranteed to see the status.
func (p *Parker) UnparkInProgress(waitStatus int32) bool {
	p.waitStatus.Store(waitStatus)
	prev := p.state.Swap(0)
	return prev&waitInProgress != 0
}

// UnparkSelf publishes waitStatus and clears the state word outright, for a
// caller that knows no other thread can be racing to unpark the parker.
func (p *Parker) UnparkSelf(waitStatus int32) {
	p.waitStatus.Store(waitStatus)
	p.state.Store(0)
}

// Unpark wakes the parker with the given status. If the parker was still
// between registering and blocking on its park spot (WAIT_IN_PROGRESS), the
// status publication alone suffices -- the parker will observe it without
// ever needing the park spot posted. Otherwise the park spot must be
// posted to release the already-blocked thread.
func (p *Parker) Unpark(waitStatus int32) {
	if !p.UnparkInProgress(waitStatus) {
		p.spot.Set()
	}
}

// Next returns the parker's alerter-list successor.
func (p *Parker) Next() *Parker { return p.next.Load() }

// SetNext sets the parker's alerter-list successor.
func (p *Parker) SetNext(n *Parker) { p.next.Store(n) }

// WaitStatus returns the status recorded by whichever unpark path fired.
func (p *Parker) WaitStatus() int32 { return p.waitStatus.Load() }

// ParkEx spins up to spin iterations checking for an already-completed wake,
// then (if still unresolved) allocates a park spot, clears
// WAIT_IN_PROGRESS, optionally registers with alerter for cooperative
// cancellation, and blocks on the park spot up to timeoutMs.
//
// The timeout/cancellation path must race-close against a concurrent
// unparker: if the park spot wait does not report success but the parker
// can no longer be cancelled (TryCancel fails, meaning someone else already
// won the lock-count race and is in the process of posting our park spot),
// the caller must keep waiting on the spot unconditionally, since a Set is
// already in flight and must be consumed or the next user of this parker
// would observe a stale post.
func (p *Parker) ParkEx(ctx context.Context, spin uint32, timeoutMs int32, alerter *Alerter, interruptible bool) int32 {
	var spinner SpinWait
	for i := uint32(0); i < spin; i++ {
		if p.state.Load() >= 0 {
			break
		}
		spinner.SpinOnce()
	}
	if p.state.Load() >= 0 {
		// Parked value already resolved (state cleared by a racing
		// unparker) without ever needing a park spot.
		return p.waitStatus.Load()
	}

	p.spot = NewParkSpot()

	// Publish: clear WAIT_IN_PROGRESS so that a concurrent Unpark commits to
	// posting the park spot rather than relying on the in-progress fast
	// path.
	for {
		state := p.state.Load()
		if state >= 0 {
			return p.waitStatus.Load()
		}
		if p.state.CAS(state, state & ^waitInProgress) {
			break
		}
	}

	if alerter != nil {
		if !alerter.RegisterParker(p) {
			return WaitAlerted
		}
	}

	waitCtx := ctx
	if !interruptible {
		waitCtx = context.Background()
	}

	remaining := timeoutMs
	for {
		status := p.spot.Wait(waitCtx, remaining)
		if alerter != nil {
			alerter.DeregisterParker(p)
		}

		if status == WaitSuccess {
			return p.waitStatus.Load()
		}

		// Timeout or interruption observed locally: attempt to claim the
		// cancellation ourselves. If we win, no one else will ever post
		// this park spot and we can return immediately.
		if p.TryCancel() {
			if status == WaitInterrupted {
				return WaitInterrupted
			}
			return WaitTimeout
		}

		// We lost the cancellation race: a winning unparker is (or will be)
		// posting our park spot right now. We must consume that post before
		// this parker can be reused, so keep waiting unconditionally.
		waitCtx = context.Background()
		remaining = Infinite
	}
}
