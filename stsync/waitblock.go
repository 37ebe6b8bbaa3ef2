package stsync

import "unsafe"

// Request bit layout for WaitBlock.Request, identifying what the waiter is
// asking for when its turn comes.
const (
	LockedRequestBit  int32 = 1 << 31
	SpecialRequestBit int32 = 1 << 30
	requestValueMask  int32 = SpecialRequestBit - 1

	// LockedRequest marks a wait block enqueued directly in the locked (not
	// contending) state, used by ReentrantFairLock.EnqueueLocked for the
	// monitor's pulse/pulse_all promotion path.
	LockedRequest int32 = LockedRequestBit
)

// WaitBlock is the node queued on a primitive's wait list: a list entry
// pairing a parker with the request it is waiting to have satisfied and the
// value it should wake up with.
//
// Grounded on mono/utils/st.h's WaitBlock / st_wait_block_init.
type WaitBlock struct {
	Entry   ListEntry
	Parker  *Parker
	Request int32
	WaitKey int32
}

// Init associates the wait block with parker and records its request value
// and the value it should carry on a successful wake.
func (w *WaitBlock) Init(parker *Parker, request, waitKey int32) {
	w.Parker = parker
	w.Request = request
	w.WaitKey = waitKey
}

// IsSpecial reports whether the wait block carries an out-of-band request.
func (w *WaitBlock) IsSpecial() bool {
	return w.Request&SpecialRequestBit != 0
}

// WaitBlockFromEntry recovers the WaitBlock that embeds e, for callers
// outside this package (the monitor engine's condition wait list) that only
// have a *ListEntry in hand, e.g. after RemoveHeadList.
func WaitBlockFromEntry(e *ListEntry) *WaitBlock {
	return (*WaitBlock)(unsafe.Pointer(uintptr(unsafe.Pointer(e)) - unsafe.Offsetof(WaitBlock{}.Entry)))
}
