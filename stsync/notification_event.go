package stsync

import (
	"context"
	"unsafe"

	"go.uber.org/atomic"
)

// NotificationEvent is a sticky, broadcast wait event: once Set, it stays
// set forever, and every past or future Wait call returns immediately.
// Its entire state -- the wait list plus two status bits -- is packed into
// a single tagged pointer so that the fast "is it already set" check and
// the list-push on a slow wait are both single CAS operations.
//
// Tag bits (lowest two bits of the word):
//
//	bit 0: lock  -- a thread is in the middle of mutating the wait list
//	bit 1: set   -- the event has fired (pending wake-up of any listed waiters)
//
// Grounded on mono/utils/st-notification-event.c and the EventState union
// it defines over an StNotificationEvent's single pointer-sized state word.
type NotificationEvent struct {
	state     atomic.Uintptr
	spinCount uint32
}

const (
	eventLockBit = uintptr(1) << 0
	eventSetBit  = uintptr(1) << 1
	eventTagMask = eventLockBit | eventSetBit
)

// stateSet is the sentinel word for "set, no list, lock not held".
const stateSet = eventSetBit

// stateResetLocked is the sentinel word for "not set, empty list, lock held".
const stateResetLocked = eventLockBit

func eventPack(entry *ListEntry, lock, set bool) uintptr {
	w := uintptr(unsafe.Pointer(entry))
	if lock {
		w |= eventLockBit
	}
	if set {
		w |= eventSetBit
	}
	return w
}

func eventPtr(w uintptr) *ListEntry {
	return (*ListEntry)(unsafe.Pointer(w &^ eventTagMask))
}

func eventLock(w uintptr) bool { return w&eventLockBit != 0 }
func eventIsSet(w uintptr) bool { return w&eventSetBit != 0 }

// Init resets the event to empty, unset, with the given spin count (used to
// preferentially wake the thread presumed still spinning on a multiprocessor;
// zero disables the optimization).
func (e *NotificationEvent) Init(spinCount uint32) {
	e.state.Store(0)
	e.spinCount = spinCount
}

// IsSet reports whether the event has fired.
func (e *NotificationEvent) IsSet() bool {
	return eventIsSet(e.state.Load())
}

// Wait blocks until the event is Set, the timeout elapses, or (if
// interruptible) ctx is cancelled / the alerter fires.
func (e *NotificationEvent) Wait(ctx context.Context, timeoutMs int32, alerter *Alerter, interruptible bool) int32 {
	if e.IsSet() {
		return WaitSuccess
	}
	return e.slowWait(ctx, timeoutMs, alerter, interruptible)
}

func (e *NotificationEvent) slowWait(ctx context.Context, timeoutMs int32, alerter *Alerter, interruptible bool) int32 {
	var parker Parker
	var wb WaitBlock
	parker.Init(1)
	wb.Init(&parker, 0, WaitSuccess)

	var headBefore uintptr
	for {
		w := e.state.Load()
		if eventIsSet(w) {
			return WaitSuccess
		}
		wb.Entry.Flink = eventPtr(w)
		headBefore = w &^ eventTagMask // pointer portion before our push, for spin_count decision
		nw := eventPack(&wb.Entry, eventLock(w), false)
		if e.state.CAS(w, nw) {
			break
		}
	}

	spin := uint32(0)
	if headBefore == 0 {
		spin = e.spinCount
	}
	status := parker.ParkEx(ctx, spin, timeoutMs, alerter, interruptible)
	if status == WaitSuccess {
		return WaitSuccess
	}

	e.unlinkListEntry(&wb.Entry)
	return status
}

func (e *NotificationEvent) unlinkListEntry(entry *ListEntry) {
	if entry.Flink == entry {
		return
	}
	w := e.state.Load()
	if eventPtr(w) == entry && !eventLock(w) && !eventIsSet(w) && entry.Flink == nil {
		if e.state.CAS(w, 0) {
			return
		}
	}
	e.slowUnlinkListEntry(entry)
}

func (e *NotificationEvent) slowUnlinkListEntry(entry *ListEntry) {
	var spinner SpinWait
	var captured uintptr

	for {
		w := e.state.Load()
		if entry.Flink == entry {
			return
		}
		if !eventLock(w) && !eventIsSet(w) && eventPtr(w) != nil {
			if eventPtr(w) == entry && entry.Flink == nil {
				if e.state.CAS(w, 0) {
					return
				}
				continue
			}
			if e.state.CAS(w, stateResetLocked) {
				captured = w
				break
			}
		}
		spinner.SpinOnce()
	}

	var first, last *ListEntry
	current := eventPtr(captured)
	for current != nil {
		next := current.Flink
		parker := wbOf(current).Parker
		if parker.IsLocked() {
			current.Flink = current
		} else {
			if first == nil {
				first = current
			} else {
				last.Flink = current
			}
			last = current
		}
		current = next
	}

	for {
		w := e.state.Load()
		if eventIsSet(w) {
			var toUnpark *ListEntry
			if first != nil && eventPtr(w) != nil {
				last.Flink = eventPtr(w)
				toUnpark = first
			} else {
				toUnpark = eventPtr(w)
			}
			e.state.Store(stateSet)
			unparkWaitList(e, toUnpark)
			e.state.Store(stateSet)
			break
		}

		nw := eventPtr(w)
		if first != nil {
			last.Flink = nw
			nw = first
		}
		packed := eventPack(nw, false, eventIsSet(w))
		if e.state.CAS(w, packed) {
			break
		}
	}

	for entry.Flink != entry {
		spinner.SpinOnce()
	}
}

func wbOf(entry *ListEntry) *WaitBlock {
	return WaitBlockFromEntry(entry)
}

func unparkListEntry(entry *ListEntry) {
	wb := wbOf(entry)
	if wb.Parker.TryLock() {
		wb.Parker.Unpark(wb.WaitKey)
	} else {
		entry.Flink = entry
	}
}

func unparkWaitList(e *NotificationEvent, list *ListEntry) {
	if list == nil {
		return
	}

	if e.spinCount != 0 && list.Flink != nil {
		prev := list
		var next *ListEntry
		for {
			next = prev.Flink
			if next == nil || next.Flink == nil {
				break
			}
			prev = next
		}
		if next != nil {
			prev.Flink = nil
			unparkListEntry(next)
		}
	}

	for list != nil {
		next := list.Flink
		unparkListEntry(list)
		list = next
	}
}

// Set fires the event, waking every currently-waiting thread. Returns
// false on the call that actually performed the transition (matching the
// original's gboolean return encoding "did I need to just flag set for a
// concurrent locker to finish" vs "was already set"); callers generally
// only care about IsSet afterward.
func (e *NotificationEvent) Set() bool {
	for {
		w := e.state.Load()
		if eventIsSet(w) {
			return true
		}
		if eventLock(w) {
			nw := eventPack(eventPtr(w), true, true)
			if e.state.CAS(w, nw) {
				return false
			}
			continue
		}
		if e.state.CAS(w, stateSet) {
			unparkWaitList(e, eventPtr(w))
			return false
		}
	}
}

// Reset clears a set event back to empty. Returns false if the event was
// not set. Spins briefly if a concurrent Set's list-mutation lock is held.
func (e *NotificationEvent) Reset() bool {
	var spinner SpinWait
	for {
		w := e.state.Load()
		if !eventIsSet(w) {
			return false
		}
		if !eventLock(w) && e.state.CAS(stateSet, 0) {
			return true
		}
		spinner.SpinOnce()
	}
}
