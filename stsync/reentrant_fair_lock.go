package stsync

import "context"

// ReentrantFairLock wraps a Mutant with an owner id and a recursion count,
// giving the fair, FIFO-queued acquisition semantics of Mutant the usual
// reentrant-lock API: a thread already holding the lock may re-enter it
// without contending, and must exit once per enter before another thread
// can acquire.
//
// Grounded on mono/utils/st.h (StReentrantFairLock) and
// mono/utils/st-reentrant-fair-lock.c.
type ReentrantFairLock struct {
	lock  Mutant
	owner uint32 // 0 means unowned; only ever mutated by the current owner or a successful acquirer
	nest  uint32
}

// Init prepares an unheld, unowned lock.
func (r *ReentrantFairLock) Init(spinCount uint32) {
	r.lock.Init(1, spinCount)
	r.owner = 0
	r.nest = 0
}

func (r *ReentrantFairLock) tryEnterFast(tid uint32) bool {
	if r.lock.TryAcquire() {
		r.owner = tid
		return true
	}
	if r.owner == tid {
		r.nest++
		return true
	}
	return false
}

// TryEnter attempts to acquire (or recursively re-acquire) the lock without
// blocking.
func (r *ReentrantFairLock) TryEnter(tid uint32) bool {
	return r.tryEnterFast(tid)
}

// TryEnterEx attempts to acquire the lock, blocking up to timeoutMs and
// honoring alerter/ctx cancellation if interruptible.
func (r *ReentrantFairLock) TryEnterEx(ctx context.Context, tid uint32, timeoutMs int32, alerter *Alerter, interruptible bool) int32 {
	if r.tryEnterFast(tid) {
		return WaitSuccess
	}
	if timeoutMs == 0 {
		return WaitTimeout
	}

	status := r.lock.SlowWait(ctx, timeoutMs, alerter, interruptible)
	if status == WaitSuccess {
		r.owner = tid
	}
	return status
}

// Enter blocks, uninterruptibly, until it acquires the lock; ctx is not
// consulted.
func (r *ReentrantFairLock) Enter(ctx context.Context, tid uint32) {
	r.TryEnterEx(ctx, tid, Infinite, nil, false)
}

// Owner returns the current owner's small id, or 0 if unheld.
func (r *ReentrantFairLock) Owner() uint32 { return r.owner }

// Nest returns the current recursion depth beyond the first acquisition.
func (r *ReentrantFairLock) Nest() uint32 { return r.nest }

// Exit releases one level of recursion, or fully releases the lock when
// the last level is released. ok is false if the caller does not hold the
// lock.
func (r *ReentrantFairLock) Exit(tid uint32) (ok bool) {
	if r.owner != tid {
		return false
	}
	if r.nest > 0 {
		r.nest--
		return true
	}
	r.owner = 0
	r.lock.release()
	return true
}

// ExitCompletely releases the lock regardless of recursion depth, returning
// the nest count that was in effect so a later re-acquisition (e.g. after a
// monitor Wait) can restore it.
func (r *ReentrantFairLock) ExitCompletely(tid uint32) (nest uint32, ok bool) {
	if r.owner != tid {
		return 0, false
	}
	nest = r.nest
	r.nest = 0
	r.owner = 0
	r.lock.release()
	return nest, true
}

// SetOwner records tid as the current owner without touching the
// underlying mutant's state. Used by a monitor wait() implementation after
// its own parker reports success: pulse hands the wait block straight to
// the mutant's queue via EnqueueLocked, bypassing the normal
// TryEnterEx/SlowWait path that would otherwise set the owner itself.
func (r *ReentrantFairLock) SetOwner(tid uint32) { r.owner = tid }

// RestoreNest sets the recursion depth directly. Safe only when called by
// the lock's own owner (e.g. a monitor wait() restoring the nest count it
// saved from ExitCompletely before re-acquiring).
func (r *ReentrantFairLock) RestoreNest(n uint32) { r.nest = n }

// EnqueueLocked enqueues wb as an already-granted waiter on the underlying
// mutant, without contending for state -- used by the monitor's pulse to
// hand a condition waiter straight onto this lock's queue.
func (r *ReentrantFairLock) EnqueueLocked(wb *WaitBlock) {
	r.lock.EnqueueLocked(wb)
}

// release flips the mutant's binary state back to available, takes the
// queue's admission lock, and runs the fairness protocol to hand the state
// to the next queued waiter, if any.
func (m *Mutant) release() {
	for !m.state.CAS(0, 1) {
	}
	m.queue.Lock(nil)
	m.ReleaseWaitersAndUnlockQueue(false)
}
