package stsync

import (
	"context"

	"go.uber.org/atomic"
)

// lockFreeSentinel and nil are the two distinguished values a
// LockedQueue's lock_state can hold besides "a stack of contending wait
// blocks": nil means the lock is held with no recorded contenders yet,
// and the package-level sentinel pointer means the lock is free. Any other
// non-nil value is the head of a lock-free CAS stack of *ListEntry.
var lockFreeSentinel = &ListEntry{}

// LockedQueue is a FIFO queue (the `head` list) whose own admission lock is
// itself contended lock-free: a thread that finds the lock held pushes a
// wait block onto a CAS stack rather than blocking on a second lock,
// avoiding priority inversion on the queue's own bookkeeping. The stack is
// flushed into the head list by whichever thread is currently unlocking.
//
// Grounded on mono/utils/st.h's LockedQueue and mono/utils/st-locked-queue.c.
type LockedQueue struct {
	lockState    atomic.Pointer[ListEntry]
	privateQueue *ListEntry // owned exclusively by the current lock holder
	head         ListEntry
	frontRequest atomic.Int32
	spinCount    uint32
}

const maxRequest = requestValueMask

// lockOnlyRequest marks a wait block enqueued purely to take the queue's
// lock (no head-list admission), used by Lock/Unlock below.
const lockOnlyRequest = LockedRequestBit | SpecialRequestBit

// Init prepares an empty, unlocked queue with the given spin count.
func (q *LockedQueue) Init(spinCount uint32) {
	q.lockState.Store(lockFreeSentinel)
	q.privateQueue = nil
	InitListHead(&q.head)
	q.frontRequest.Store(0)
	if IsMultiProcessor() {
		q.spinCount = spinCount
	} else {
		q.spinCount = 0
	}
}

// FrontRequest returns the request value of whatever wait block currently
// fronts the head queue, or 0 if empty. Used by Mutant to decide whether a
// release is pending.
func (q *LockedQueue) FrontRequest() int32 {
	return q.frontRequest.Load()
}

// Lock acquires the queue's own admission lock. If entry is non-nil and
// already marked dead (self-linked, i.e. cancelled by a concurrent
// operation) the call aborts and returns false without acquiring anything.
func (q *LockedQueue) Lock(entry *ListEntry) bool {
	for {
		spin := q.spinCount
		for {
			if entry != nil && entry.Flink == entry {
				return false
			}
			state := q.lockState.Load()
			if state == lockFreeSentinel {
				if q.lockState.CAS(state, nil) {
					q.frontRequest.Store(0)
					q.privateQueue = nil
					return true
				}
				continue
			}
			if state != nil || spin == 0 {
				break
			}
			spin--
			SpinWaitIterations(1)
		}

		var parker Parker
		var wb WaitBlock
		parker.Init(1)
		wb.Init(&parker, lockOnlyRequest, WaitSuccess)

		acquired := false
		for {
			if entry != nil && entry.Flink == entry {
				return false
			}
			state := q.lockState.Load()
			if state == lockFreeSentinel {
				if q.lockState.CAS(state, nil) {
					q.frontRequest.Store(0)
					q.privateQueue = nil
					acquired = true
				}
				if acquired {
					break
				}
				continue
			}
			wb.Entry.Flink = state
			if q.lockState.CAS(state, &wb.Entry) {
				break
			}
		}
		if acquired {
			return true
		}

		parker.ParkEx(context.Background(), 0, Infinite, nil, false)
	}
}

// TryUnlock releases the queue's admission lock. Any wait blocks accumulated
// on the contention stack while the lock was held are first spliced into the
// head list (or, for lock-only requests, into the private queue to be woken
// directly; cancelled ones are marked dead). If that admits new entries to
// the head list while force is false and the head list was empty on entry,
// TryUnlock returns false with the lock still held so the caller can serve
// them. Otherwise it publishes the front request, releases the lock, wakes
// the private-queue waiters with WaitSuccess, and returns true.
func (q *LockedQueue) TryUnlock(force bool) bool {
	if !force && !IsListEmpty(&q.head) {
		force = true
	}

	for {
		state := q.lockState.Load()
		if state == nil {
			var front int32
			if entry := q.head.Flink; entry != &q.head {
				front = wbOf(entry).Request & maxRequest
			}
			q.frontRequest.Store(front)

			private := q.privateQueue
			if q.lockState.CAS(nil, lockFreeSentinel) {
				entry := private
				for entry != nil {
					next := entry.Flink
					wbOf(entry).Parker.Unpark(WaitSuccess)
					entry = next
				}
				return true
			}
			q.frontRequest.Store(0)
			continue
		}

		if q.lockState.CAS(state, nil) {
			changed := q.processLockQueue(state, q.head.Blink)
			if changed && !force {
				return false
			}
			continue
		}
	}
}

// processLockQueue splices the captured contention stack (first..last
// traversal order, most-recently-pushed first) into the head list (for
// ordinary, still-live requests), the private queue (for lock-only
// requests, woken directly on unlock), or marks the entry dead (cancelled
// waiters). Returns whether any entry was admitted to the head list.
func (q *LockedQueue) processLockQueue(first, last *ListEntry) bool {
	changed := false
	entry := first
	for {
		next := entry.Flink
		wb := wbOf(entry)

		switch {
		case wb.Request == lockOnlyRequest:
			entry.Flink = q.privateQueue
			q.privateQueue = entry
		case !wb.Parker.IsLocked() || wb.Request < 0:
			InsertHeadList(last, entry)
			changed = true
		default:
			entry.Flink = entry
		}

		entry = next
		if entry == nil {
			break
		}
	}
	return changed
}

// Enqueue admits wait_block to the queue. If the admission lock was free,
// the wait block is inserted directly into the head list under the lock
// the caller now holds (the caller is then responsible for TryUnlock);
// Enqueue reports true in this case. Otherwise the wait block is pushed
// onto the contention stack for the current lock holder to process, and
// Enqueue reports false. first reports whether the wait block became (or
// will become) the sole entry at the head of the queue.
func (q *LockedQueue) Enqueue(wb *WaitBlock) (lockedHere, first bool) {
	for {
		state := q.lockState.Load()
		if state == lockFreeSentinel {
			if q.lockState.CAS(state, nil) {
				InsertTailList(&q.head, &wb.Entry)
				first = q.head.Flink == &wb.Entry
				q.frontRequest.Store(0)
				q.privateQueue = nil
				return true, first
			}
			continue
		}

		wb.Entry.Flink = state
		if q.lockState.CAS(state, &wb.Entry) {
			first = state == nil && IsListEmpty(&q.head)
			return false, first
		}
	}
}
