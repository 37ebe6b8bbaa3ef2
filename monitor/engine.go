package monitor

import (
	"context"
	"time"

	"github.com/dijkstracula/go-stmonitor/stsync"
)

// identityHashMultiplier is Knuth's multiplicative hash constant, used to
// scramble a Handle's address into a well-distributed 30-bit identity hash.
const identityHashMultiplier = 2654435761

// identityHashShift discards the low, alignment-determined bits of the
// address before multiplying, the same way the original discards the low
// bits of a GC-aligned pointer.
const identityHashShift = 3

func identityHash(h *Handle) uint32 {
	addr := uint32(h.address() >> identityHashShift)
	return (addr * identityHashMultiplier) >> 2 & uint32(identityHashMask)
}

func remainingUntil(dl time.Time) int32 {
	d := time.Until(dl)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(1<<30) {
		return 1 << 30
	}
	return int32(ms)
}

// ownerMatches reports whether tid currently owns h's monitor, consulting
// whichever representation (flat or inflated) the lock word describes.
//
// spec.md's historical note calls out that the original's corresponding
// assert inverted this comparison (asserting owner != small_id); this
// implementation does not reproduce that bug.
func ownerMatches(w lockWord, tid uint32) bool {
	switch {
	case w.isFlat():
		return w != 0 && w.flatOwner() == tid
	case w.isInflated():
		return theAllocator.blockAt(w.blockIndex()).lock.Owner() == tid
	default:
		return false
	}
}

// enterInflated delegates an acquisition attempt to the sync block an
// already-inflated lock word points to.
func enterInflated(ctx context.Context, w lockWord, tid uint32, timeoutMs int32, alerter *stsync.Alerter, interruptible bool) int32 {
	b := theAllocator.blockAt(w.blockIndex())
	return b.lock.TryEnterEx(ctx, tid, timeoutMs, alerter, interruptible)
}

// inflate implements the contended inflation path: find or create the
// transient sync block registered for h, acquire its inner lock (which is
// how the inflating thread itself acquires the monitor), then race to
// publish INFLATED into h's lock word. While the word still reads FLAT with
// a live owner, publication must wait for that owner's last Exit to zero
// it; this loop busy-polls for that, honoring timeout and interruption.
//
// Grounded on mono/metadata/monitor.c's mono_monitor_try_enter_inflated and
// the free-list/table bookkeeping in its surrounding helpers.
func inflate(ctx context.Context, h *Handle, tid uint32, timeoutMs int32, alerter *stsync.Alerter, interruptible bool) int32 {
	dlSet := timeoutMs != stsync.Infinite
	var dl time.Time
	if dlSet {
		dl = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	remaining := timeoutMs

	for {
		if w := h.load(); w.isInflated() {
			return enterInflated(ctx, w, tid, remaining, alerter, interruptible)
		}

		b, _ := theAllocator.lookupOrInsert(h)

		if w := h.load(); w.isInflated() {
			if w.blockIndex() != b.index {
				theAllocator.release(h, true)
			}
			return enterInflated(ctx, w, tid, remaining, alerter, interruptible)
		}

		status := b.lock.TryEnterEx(ctx, tid, remaining, alerter, interruptible)
		if status != stsync.WaitSuccess {
			theAllocator.release(h, true)
			return status
		}

		var spinner stsync.SpinWait
		for {
			cur := h.load()

			if cur.isInflated() {
				b.lock.Exit(tid)
				theAllocator.release(h, false)
				return enterInflated(ctx, cur, tid, remaining, alerter, interruptible)
			}

			if cur == 0 || cur.isThinHash() {
				fat := cur.isThinHash()
				nw := packInflated(b.index, fat)
				if h.cas(cur, nw) {
					if fat {
						b.hashCode.Store(int32(cur.thinHash()))
						b.hasHash.Store(true)
					}
					theAllocator.remove(h)
					stsync.InitListHead(&b.condWaitList)
					return stsync.WaitSuccess
				}
				continue
			}

			// Still flat-owned by a live holder: wait for its last Exit to
			// zero the word before we can publish.
			if interruptible && ctx.Err() != nil {
				b.lock.Exit(tid)
				theAllocator.release(h, true)
				return stsync.WaitInterrupted
			}
			if dlSet {
				remaining = remainingUntil(dl)
				if remaining <= 0 {
					b.lock.Exit(tid)
					theAllocator.release(h, true)
					return stsync.WaitTimeout
				}
			}
			spinner.SpinOnce()
		}
	}
}

// inflateWhileOwned inflates an object the calling thread already holds
// flat (recursion overflow, or Hash() called while flat and locked by the
// caller itself). Unlike the contended path, the word is never transiently
// zeroed: only the current owner ever mutates a live flat word (every other
// Enter's fast path declines to CAS against a non-zero word whose owner
// isn't it, and Hash's contended path only ever races to publish against a
// word reading 0 or THIN_HASH), so the owner can CAS straight from its own
// FLAT value to INFLATED and be certain nothing else is racing that CAS.
func inflateWhileOwned(h *Handle, tid uint32) {
	w := h.load()
	nest := w.flatNest()

	b, _ := theAllocator.lookupOrInsert(h)
	b.lock.TryEnterEx(context.Background(), tid, stsync.Infinite, nil, false)

	for {
		cur := h.load()
		if cur.isInflated() {
			// A concurrent Hash() call already inflated this object via the
			// contended path; drop our reservation and properly acquire the
			// block it published instead (briefly blocking, if needed, on
			// Hash's own short-lived hold of it) so we genuinely own it
			// rather than merely assuming we do.
			if cur.blockIndex() != b.index {
				b.lock.Exit(tid)
				theAllocator.release(h, true)
				b = theAllocator.blockAt(cur.blockIndex())
				b.lock.TryEnterEx(context.Background(), tid, stsync.Infinite, nil, false)
			}
			break
		}
		if h.cas(cur, packInflated(b.index, cur.isThinHash())) {
			if cur.isThinHash() {
				b.hashCode.Store(int32(cur.thinHash()))
				b.hasHash.Store(true)
			}
			theAllocator.remove(h)
			stsync.InitListHead(&b.condWaitList)
			break
		}
	}

	b.lock.RestoreNest(uint32(nest))
}

// enterCommon is the shared body of Enter/TryEnter/TryEnterInterruptible: it
// retries the flat fast path, then dispatches to whichever slow path the
// observed lock word calls for, decrementing the caller's remaining budget
// between attempts.
func enterCommon(ctx context.Context, h *Handle, tid uint32, timeoutMs int32, alerter *stsync.Alerter, interruptible bool) int32 {
	dlSet := timeoutMs != stsync.Infinite
	var dl time.Time
	if dlSet {
		dl = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	remaining := timeoutMs

	for {
		if acquired, slow := h.FastTryEnter(tid); acquired {
			return stsync.WaitSuccess
		} else if !slow {
			continue
		}

		w := h.load()
		switch {
		case w.isInflated():
			return enterInflated(ctx, w, tid, remaining, alerter, interruptible)
		case w.isFlat() && w != 0 && w.flatOwner() == tid && w.flatNest() == maxNest:
			inflateWhileOwned(h, tid)
			// inflateWhileOwned only migrates the nest count already held;
			// this call is itself one further re-entrant acquisition, which
			// the block's recursion counter (unlike the flat word's 8 bits)
			// has room for.
			w2 := h.load()
			b := theAllocator.blockAt(w2.blockIndex())
			b.lock.RestoreNest(b.lock.Nest() + 1)
			return stsync.WaitSuccess
		default:
			status := inflate(ctx, h, tid, remaining, alerter, interruptible)
			if status == stsync.WaitSuccess {
				return status
			}
			if dlSet {
				remaining = remainingUntil(dl)
				if remaining <= 0 {
					return stsync.WaitTimeout
				}
				continue
			}
			return status
		}
	}
}

// Enter acquires obj's monitor, blocking uninterruptibly (except via ctx
// cancellation being ignored, matching the non-interruptible primitives)
// until it succeeds.
func Enter(ctx context.Context, h *Handle, tid *stsync.ThreadID) error {
	if h == nil {
		return ErrNullObject
	}
	enterCommon(ctx, h, tid.ID(), stsync.Infinite, nil, false)
	return nil
}

// TryEnter attempts to acquire obj's monitor within timeoutMs milliseconds
// (stsync.Infinite to block forever, 0 for a non-blocking probe).
func TryEnter(h *Handle, tid *stsync.ThreadID, timeoutMs int32) (bool, error) {
	if h == nil {
		return false, ErrNullObject
	}
	status := enterCommon(context.Background(), h, tid.ID(), timeoutMs, nil, false)
	return status == stsync.WaitSuccess, nil
}

// TryEnterInterruptible is TryEnter, but the wait is cancellable either via
// ctx or via alerter, in which case it returns (false, nil) rather than
// acquiring the monitor. With an infinite timeout, or on an already-inflated
// monitor, it returns as soon as the cancellation is observed; while it is
// inflating a flat-held monitor under a finite timeout, it retries the
// inflation until that timeout elapses.
func TryEnterInterruptible(ctx context.Context, h *Handle, tid *stsync.ThreadID, timeoutMs int32, alerter *stsync.Alerter) (bool, error) {
	if h == nil {
		return false, ErrNullObject
	}
	status := enterCommon(ctx, h, tid.ID(), timeoutMs, alerter, true)
	return status == stsync.WaitSuccess, nil
}

// Exit releases one level of recursion from obj's monitor, fully releasing
// it once the outermost Enter is matched. It is an error to call Exit
// without owning the monitor.
func Exit(h *Handle, tid *stsync.ThreadID) error {
	if h == nil {
		return ErrNullObject
	}
	w := h.load()
	if !ownerMatches(w, tid.ID()) {
		return ErrSynchronizationLockViolation
	}

	if w.isInflated() {
		theAllocator.blockAt(w.blockIndex()).lock.Exit(tid.ID())
		return nil
	}

	// Flat: only the owner ever touches this word, so a plain Store
	// suffices as the release -- Go's atomic Store already provides the
	// memory-ordering guarantees a hand-rolled fence would.
	if nest := w.flatNest(); nest > 0 {
		h.store(packFlat(tid.ID(), nest-1))
	} else {
		h.store(0)
	}
	return nil
}

// Wait atomically releases obj's monitor (restoring any recursion depth on
// return) and blocks the calling thread until a Pulse/PulseAll call selects
// it, timeoutMs elapses, or ctx is cancelled. It reports whether it woke via
// a pulse (false on timeout/cancellation). Wait requires the calling thread
// already own the monitor, inflating it first if it is still flat.
func Wait(ctx context.Context, h *Handle, tid *stsync.ThreadID, timeoutMs int32) (bool, error) {
	if h == nil {
		return false, ErrNullObject
	}
	w := h.load()
	if !ownerMatches(w, tid.ID()) {
		return false, ErrSynchronizationLockViolation
	}
	if !w.isInflated() {
		inflateWhileOwned(h, tid.ID())
		w = h.load()
	}
	b := theAllocator.blockAt(w.blockIndex())

	var parker stsync.Parker
	var wb stsync.WaitBlock
	parker.Init(1)
	wb.Init(&parker, 0, stsync.WaitSuccess)
	stsync.InsertTailList(&b.condWaitList, &wb.Entry)

	nest, _ := b.lock.ExitCompletely(tid.ID())

	status := parker.ParkEx(ctx, 0, timeoutMs, nil, true)

	if status == stsync.WaitSuccess {
		// A pulse already moved our wait block onto the lock's own queue
		// and the mutant's fairness protocol granted it to us; the normal
		// TryEnterEx/SlowWait owner assignment never ran for this
		// acquisition, so we record ownership ourselves.
		b.lock.SetOwner(tid.ID())
		b.lock.RestoreNest(nest)
		return true, nil
	}

	// Timed out or cancelled before any pulse reached us. We are not (and
	// never will be, once a future pulse visits our still-cancelled
	// parker) granted the lock, so reacquire it the ordinary way.
	b.lock.Enter(ctx, tid.ID())
	b.lock.RestoreNest(nest)
	return false, nil
}

// Pulse wakes at most one thread blocked in Wait on obj's monitor, moving it
// onto the monitor's own lock queue so it reacquires as soon as the current
// owner releases. It requires the calling thread own the monitor, and is a
// no-op if nothing has ever waited on it (never inflated) or the condition
// wait list is empty.
func Pulse(h *Handle, tid *stsync.ThreadID) error {
	if h == nil {
		return ErrNullObject
	}
	w := h.load()
	if !ownerMatches(w, tid.ID()) {
		return ErrSynchronizationLockViolation
	}
	if !w.isInflated() {
		return nil
	}
	b := theAllocator.blockAt(w.blockIndex())

	for !stsync.IsListEmpty(&b.condWaitList) {
		entry := stsync.RemoveHeadList(&b.condWaitList)
		wb := stsync.WaitBlockFromEntry(entry)
		if wb.Parker.TryLock() {
			b.lock.EnqueueLocked(wb)
			return nil
		}
		// This waiter already cancelled (timeout/alert) and claimed its
		// own parker first; its entry is already unlinked by RemoveHeadList
		// above, so there is nothing further to do for it.
	}
	return nil
}

// PulseAll wakes every thread currently blocked in Wait on obj's monitor.
func PulseAll(h *Handle, tid *stsync.ThreadID) error {
	if h == nil {
		return ErrNullObject
	}
	w := h.load()
	if !ownerMatches(w, tid.ID()) {
		return ErrSynchronizationLockViolation
	}
	if !w.isInflated() {
		return nil
	}
	b := theAllocator.blockAt(w.blockIndex())

	for !stsync.IsListEmpty(&b.condWaitList) {
		entry := stsync.RemoveHeadList(&b.condWaitList)
		wb := stsync.WaitBlockFromEntry(entry)
		if wb.Parker.TryLock() {
			b.lock.EnqueueLocked(wb)
		}
	}
	return nil
}

// Hash returns obj's stable identity hash, computing and publishing it (as
// THIN_HASH if unlocked, or migrating an already-inflated lock to FAT_HASH)
// on first use. tid identifies the calling thread if it already owns obj's
// monitor, or nil if it does not (the common case).
//
// If obj is flat-locked by some other thread, Hash contends for the monitor
// purely to install the hash, then releases it immediately -- it never
// affects whether the caller "holds" obj's monitor. If obj is flat-locked by
// tid itself, Hash instead inflates as the owner: contending for a lock the
// caller already holds would deadlock forever waiting for its own Exit.
func Hash(h *Handle, tid *stsync.ThreadID) int32 {
	if h == nil {
		return 0
	}

	for {
		w := h.load()
		switch {
		case w.isThinHash():
			return int32(w.thinHash())

		case w.isFatHash():
			return theAllocator.blockAt(w.blockIndex()).hashCode.Load()

		case w == 0:
			hv := identityHash(h)
			if h.cas(0, packThinHash(hv)) {
				return int32(hv)
			}
			continue

		case w.status() == statusInflated:
			b := theAllocator.blockAt(w.blockIndex())
			hv := identityHash(h)
			if !b.hasHash.CAS(false, true) {
				return b.hashCode.Load()
			}
			b.hashCode.Store(int32(hv))
			for {
				cur := h.load()
				if cur.isFatHash() {
					break
				}
				if h.cas(cur, packInflated(cur.blockIndex(), true)) {
					break
				}
			}
			return int32(hv)

		case tid != nil && w.flatOwner() == tid.ID():
			inflateWhileOwned(h, tid.ID())
			w2 := h.load()
			b := theAllocator.blockAt(w2.blockIndex())
			hv := identityHash(h)
			if b.hasHash.CAS(false, true) {
				b.hashCode.Store(int32(hv))
			}
			for {
				cur := h.load()
				if cur.isFatHash() {
					break
				}
				if h.cas(cur, packInflated(cur.blockIndex(), true)) {
					break
				}
			}
			return b.hashCode.Load()

		default: // flat, owned by some other thread
			contender := stsync.NewThreadID()
			inflate(context.Background(), h, contender.ID(), stsync.Infinite, nil, false)
			w2 := h.load()
			b := theAllocator.blockAt(w2.blockIndex())
			hv := identityHash(h)
			if b.hasHash.CAS(false, true) {
				b.hashCode.Store(int32(hv))
			}
			for {
				cur := h.load()
				if cur.isFatHash() {
					break
				}
				if h.cas(cur, packInflated(cur.blockIndex(), true)) {
					break
				}
			}
			b.lock.Exit(contender.ID())
			return b.hashCode.Load()
		}
	}
}

// LockInfo is one row of a LocksDump snapshot: the state of a single
// inflated sync block at the moment it was sampled.
type LockInfo struct {
	Owner       uint32
	Nest        uint32
	WaitersHeld int
	HashCode    int32
	HasHash     bool
}

// LocksDump returns a point-in-time snapshot of the lock state of every
// currently BOUND sync block whose lock has an owner (blocks whose lock is
// not held are omitted), for diagnostics (the cmd/stmonitor-dump tool's
// reason for existing). It takes no lock of its own beyond what reading
// each block's atomics requires, so the result can be stale the instant it
// is returned under concurrent activity.
func LocksDump() []LockInfo {
	snap := theAllocator.snapshot()

	var out []LockInfo
	for ci := range snap.chunks {
		chunk := snap.chunks[ci]
		for i := range chunk {
			b := &chunk[i]
			if blockLifecycle(b.state.Load()) != blockBound {
				continue
			}
			owner := b.lock.Owner()
			if owner == 0 {
				continue
			}
			waiters := 0
			for e := b.condWaitList.Flink; e != &b.condWaitList; e = e.Flink {
				waiters++
			}
			out = append(out, LockInfo{
				Owner:       owner,
				Nest:        b.lock.Nest(),
				WaitersHeld: waiters,
				HashCode:    b.hashCode.Load(),
				HasHash:     b.hasHash.Load(),
			})
		}
	}
	return out
}
