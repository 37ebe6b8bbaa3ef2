package monitor

import (
	"weak"

	"github.com/dijkstracula/go-stmonitor/stsync"
	"go.uber.org/atomic"
)

type blockLifecycle int32

const (
	blockFree blockLifecycle = iota
	blockBound
	blockDead
)

// syncBlock is a sync block / lock record: the per-inflated-Handle record
// holding a reentrant fair lock, the condition wait list threaded through
// it, and -- once an object has both been hashed and locked -- its 30-bit
// identity hash. Sync blocks live forever once allocated; the allocator
// recycles them by free-list, never by individual deallocation.
//
// Grounded on mono/metadata/monitor.c's MonoThreadsSync and the lifecycle
// spec.md §3 describes (FREE / BOUND / DEAD).
type syncBlock struct {
	lock         stsync.ReentrantFairLock
	condWaitList stsync.ListEntry

	hasHash  atomic.Bool
	hashCode atomic.Int32

	state  atomic.Int32 // blockLifecycle
	weak   weak.Pointer[Handle]
	nextFree uint32 // valid only while state == blockFree; 0 = end of list

	// inflationRefcount is transient scratch used only while this block is
	// registered in the allocator's inflation table, counting how many
	// concurrent inflation attempts are racing to publish it. The design
	// notes call out that the original overloads the wait list's forward
	// link for this; a dedicated field is simpler and behaves identically.
	inflationRefcount atomic.Int32

	index uint32 // this block's own 1-based index, stable for its lifetime
}

func (b *syncBlock) init(index uint32) {
	b.index = index
	b.lock.Init(monitorSpinCount)
	stsync.InitListHead(&b.condWaitList)
	b.hasHash.Store(false)
	b.hashCode.Store(0)
	b.state.Store(int32(blockFree))
}

func (b *syncBlock) bind(h *Handle) {
	b.weak = weak.Make(h)
	b.state.Store(int32(blockBound))
}

// isDead reports whether the handle this block was bound to has been
// collected.
func (b *syncBlock) isDead() bool {
	return blockLifecycle(b.state.Load()) == blockBound && b.weak.Value() == nil
}
