package stsync

import (
	"context"

	"go.uber.org/atomic"
)

// acquireRequest is the wait-key a Mutant slow-wait uses: "grant me the
// binary state".
const acquireRequest int32 = 1

// Mutant is the common base of a fair lock and a synchronization event: one
// bit of binary state plus a fair, FIFO LockedQueue of waiters, plus the
// release protocol that guarantees no waiter is ever left queued while the
// mutant is available and no acquirer is actively racing the state CAS.
//
// Grounded on mono/utils/st.h (StMutant) and mono/utils/st-mutant.c.
type Mutant struct {
	state atomic.Int32 // 0 or 1; 1 means "available"
	queue LockedQueue
}

// Init prepares the mutant in the given initial state (1 = available).
func (m *Mutant) Init(initial int32, spinCount uint32) {
	m.state.Store(initial)
	m.queue.Init(spinCount)
}

// TryAcquire attempts the binary fast path: succeeds only when the mutant
// is available AND no waiter is already fairly queued (queue-fair: once
// anyone is waiting, new arrivals must queue too, even if state flips
// available in between).
func (m *Mutant) TryAcquire() bool {
	return m.state.Load() == 1 && IsListEmpty(&m.queue.head) && m.state.CAS(1, 0)
}

// IsReleasePending reports whether the mutant is available and the waiter
// currently at the front of the queue could be granted. When it reports
// true it has also taken the queue's admission lock, which the caller then
// hands on to ReleaseWaitersAndUnlockQueue.
func (m *Mutant) IsReleasePending() bool {
	if m.queue.FrontRequest() == 0 || m.state.Load() == 0 {
		return false
	}
	if !m.queue.lockState.CAS(lockFreeSentinel, nil) {
		return false
	}
	m.queue.frontRequest.Store(0)
	m.queue.privateQueue = nil
	return true
}

// ReleaseWaitersAndUnlockQueue is the heart of the mutant's fairness
// protocol. While the mutant is available (or a pending try_set value is
// being handed off) and the queue's head waiter can be granted, it grants
// the waiter's request, removes it from the queue, and wakes it -- unless
// the waiter already cancelled, in which case the grant is preserved for
// the next iteration and the entry is marked dead. It finishes by
// attempting to unlock the queue and looping if new arrivals raced in.
//
// trySet carries a single already-available grant that bypasses the state
// CAS (used when a releaser already knows exactly one unit of availability
// must be handed to whichever waiter is queued, e.g. a synchronization
// event's Set). It returns whether trySet was NOT consumed (true = no
// hand-off occurred and the caller may still use the available unit itself).
func (m *Mutant) ReleaseWaitersAndUnlockQueue(trySet bool) bool {
	head := &m.queue.head
	trySetUsed := false

	for {
		for (m.state.Load() != 0 || trySet) && head.Flink != head {
			entry := head.Flink
			wb := wbOf(entry)
			parker := wb.Parker

			granted := false
			if trySet {
				trySet = false
				trySetUsed = true
				granted = true
			} else if m.state.Load() == 1 && m.state.CAS(1, 0) {
				granted = true
			}
			if !granted {
				break
			}

			RemoveEntryList(entry)

			if parker.TryLock() || wb.Request < 0 {
				parker.Unpark(wb.WaitKey)
			} else {
				if trySetUsed || m.state.Load() == 1 || !m.state.CAS(0, 1) {
					trySet = true
					trySetUsed = false
				}
				entry.Flink = entry
			}
		}

		if !m.queue.TryUnlock(m.state.Load() == 0 && !trySet) {
			continue
		}

		if trySet && m.state.Load() == 0 && m.state.CAS(0, 1) {
			trySet = false
			trySetUsed = true
		}

		if !m.IsReleasePending() {
			break
		}
	}

	return !trySetUsed
}

func (m *Mutant) unlinkListEntry(entry *ListEntry) {
	if entry.Flink != entry && m.queue.Lock(entry) {
		if entry.Flink != entry {
			RemoveEntryList(entry)
		}
		m.ReleaseWaitersAndUnlockQueue(false)
	}
}

func (m *Mutant) enqueueWaiter(wb *WaitBlock) bool {
	lockedHere, first := m.queue.Enqueue(wb)
	if !lockedHere {
		return first
	}

	if !first || m.state.Load() == 0 {
		m.queue.TryUnlock(true)
		if !m.IsReleasePending() {
			return first
		}
	}

	m.ReleaseWaitersAndUnlockQueue(false)
	return first
}

// SlowWait enqueues a request for the mutant's state, optionally spinning
// (only useful when the wait block landed at the head of the queue) before
// parking, up to timeoutMs and cooperatively cancellable via alerter.
func (m *Mutant) SlowWait(ctx context.Context, timeoutMs int32, alerter *Alerter, interruptible bool) int32 {
	var parker Parker
	var wb WaitBlock
	parker.Init(1)
	wb.Init(&parker, acquireRequest, WaitSuccess)

	spin := uint32(0)
	if m.enqueueWaiter(&wb) {
		spin = m.queue.spinCount
	}

	status := parker.ParkEx(ctx, spin, timeoutMs, alerter, interruptible)
	if status == WaitSuccess {
		return WaitSuccess
	}

	m.unlinkListEntry(&wb.Entry)
	return status
}

// EnqueueLocked enqueues wb as an already-granted waiter -- it does not
// contend for the mutant's state at all, it simply joins the queue so
// that the next release hands it the state (used by the monitor's
// pulse/pulse_all to promote a condition waiter directly onto the lock's
// queue, skipping ordinary contention).
func (m *Mutant) EnqueueLocked(wb *WaitBlock) {
	wb.Request = LockedRequest
	m.enqueueWaiter(wb)
}
