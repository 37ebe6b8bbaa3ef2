package stsync

import (
	"context"
	"time"

	"go.uber.org/atomic"
)

// Lock is a simple non-fair mutual-exclusion lock: waiters are not queued
// FIFO, and a thread racing a just-released Lock against a thread already
// parked may win ahead of it. Used where plain exclusion (not fairness) is
// all that is needed, e.g. guarding the handle table.
//
// Grounded on mono/utils/st.h (StLock) and mono/utils/st-lock.c.
type Lock struct {
	state     atomic.Pointer[ListEntry]
	spinCount uint32
}

// Init prepares an unheld lock with the given spin count (ignored on a
// uniprocessor, where spinning cannot help).
func (l *Lock) Init(spinCount uint32) {
	l.state.Store(lockFreeSentinel)
	if IsMultiProcessor() {
		l.spinCount = spinCount
	} else {
		l.spinCount = 0
	}
}

// TryEnter attempts to acquire the lock without blocking.
func (l *Lock) TryEnter() bool {
	return l.state.Load() == lockFreeSentinel && l.state.CAS(lockFreeSentinel, nil)
}

// EnterEx acquires the lock, blocking up to timeoutMs if the fast path
// fails and timeoutMs != 0.
func (l *Lock) EnterEx(ctx context.Context, timeoutMs int32) bool {
	return l.TryEnter() || (timeoutMs != 0 && l.slowEnter(ctx, timeoutMs))
}

// Enter acquires the lock, blocking forever if necessary.
func (l *Lock) Enter(ctx context.Context) {
	if !l.TryEnter() {
		l.slowEnter(ctx, Infinite)
	}
}

func (l *Lock) slowEnter(ctx context.Context, timeoutMs int32) bool {
	var lastTime time.Time
	if timeoutMs != Infinite {
		lastTime = time.Now()
	}

	var wb WaitBlock
	var parker Parker
	wb.Init(&parker, 0, WaitSuccess)

	for {
		spin := l.spinCount
		for {
			state := l.state.Load()
			if state == lockFreeSentinel {
				if l.state.CAS(state, nil) {
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

		parker.Init(1)
		for {
			state := l.state.Load()
			if state == lockFreeSentinel {
				if l.state.CAS(state, nil) {
					return true
				}
				continue
			}
			wb.Entry.Flink = state
			if l.state.CAS(state, &wb.Entry) {
				break
			}
		}

		status := parker.ParkEx(ctx, 0, timeoutMs, nil, false)
		if status != WaitSuccess {
			l.unlinkListEntry(&wb.Entry)
			return false
		}
		if l.TryEnter() {
			return true
		}

		if timeoutMs != Infinite {
			now := time.Now()
			elapsed := now.Sub(lastTime).Milliseconds()
			if elapsed == 0 {
				elapsed = 1
			}
			if int64(timeoutMs) <= elapsed {
				return false
			}
			timeoutMs -= int32(elapsed)
			lastTime = now
		}
	}
}

func (l *Lock) unlinkListEntry(entry *ListEntry) {
	var spinner SpinWait
	for {
		if entry.Flink == entry {
			return
		}
		state := l.state.Load()
		if state == nil || state == lockFreeSentinel {
			break
		}
		if l.state.CAS(state, nil) {
			if state == entry && entry.Flink == nil {
				return
			}
			unparkLockWaitList(state)
			break
		}
	}
	for entry.Flink != entry {
		spinner.SpinOnce()
	}
}

// unparkLockWaitList wakes every waiter in the singly-linked (via Flink)
// chain captured from Lock's state, using each entry's Blink field as
// scratch space to build a LIFO "wake stack" so that parkers are only
// unparked (and thus eligible to race for the lock again) after the whole
// chain has been walked and filtered for cancellations.
func unparkLockWaitList(entry *ListEntry) {
	if entry == nil || entry == lockFreeSentinel {
		return
	}

	var wakeStack *ListEntry
	for {
		next := entry.Flink
		wb := wbOf(entry)
		if wb.Parker.TryLock() {
			entry.Blink = wakeStack
			wakeStack = entry
		} else {
			entry.Flink = entry
		}
		if next == nil {
			break
		}
		entry = next
	}

	for wakeStack != nil {
		next := wakeStack.Blink
		wbOf(wakeStack).Parker.Unpark(wbOf(wakeStack).WaitKey)
		wakeStack = next
	}
}

// Exit releases the lock, waking every waiter so they can race to acquire
// it again (non-fair: no particular waiter is favored).
func (l *Lock) Exit() {
	old := l.state.Swap(lockFreeSentinel)
	unparkLockWaitList(old)
}
