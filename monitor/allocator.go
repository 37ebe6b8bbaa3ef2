package monitor

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const monitorSpinCount = 256

const initialArraySize = 16

// arenaSnapshot is the array chain's published, immutable view: the chunk
// list and the cumulative offsets used to locate a block by index. grow
// publishes a fresh snapshot (new outer slices, same inner chunk arrays) so
// that blockAt can read the chain without a.mu -- existing *syncBlock
// addresses stay valid forever since chunk backing arrays are never
// reallocated, only appended to the chain.
type arenaSnapshot struct {
	chunks       [][]syncBlock
	chunkOffsets []uint32 // cumulative block count before each chunk
}

// allocator is the process-wide singleton sync-block free-list and
// inflation table. Its mutex is never held across a blocking wait; only
// the CAS-bounded bookkeeping below runs under it, per spec.md §5's "no
// deadlocks between subsystems" requirement. The array chain itself is
// published separately via an atomic pointer so that blockAt -- called on
// every inflated-lock hot path -- never needs to take a.mu.
//
// Grounded on mono/metadata/monitor.c's MonitorArray chain and free-list,
// plus the transient inflation table it maintains alongside them.
type allocator struct {
	mu sync.Mutex

	arena    atomic.Pointer[arenaSnapshot]
	nextSize int

	freeHead uint32 // 1-based index; 0 = empty

	// table maps a Handle's identity to the sync block another thread is
	// already in the process of binding to it, so concurrent inflation
	// attempts on the same object converge on one block instead of racing
	// to allocate two.
	table map[uintptr]uint32

	log *zap.SugaredLogger
}

var theAllocator = newAllocator()

func newAllocator() *allocator {
	a := &allocator{
		nextSize: initialArraySize,
		table:    make(map[uintptr]uint32),
		log:      zap.NewNop().Sugar(),
	}
	a.arena.Store(&arenaSnapshot{})
	return a
}

// snapshot returns the current array chain for iteration (e.g. LocksDump).
// Safe to call without a.mu; see arenaSnapshot.
func (a *allocator) snapshot() *arenaSnapshot {
	return a.arena.Load()
}

// SetLogger installs a structured logger for allocator diagnostics (currently
// only sync block arena growth is logged); by default diagnostics are
// discarded.
func SetLogger(l *zap.SugaredLogger) {
	theAllocator.log = l
}

func (a *allocator) blockAt(index uint32) *syncBlock {
	// index is 1-based; find the chunk containing it via the cumulative
	// offsets recorded at grow time.
	snap := a.arena.Load()
	for i := len(snap.chunkOffsets) - 1; i >= 0; i-- {
		if index > snap.chunkOffsets[i] {
			return &snap.chunks[i][index-snap.chunkOffsets[i]-1]
		}
	}
	panic("monitor: invalid sync block index")
}

// grow appends a new geometric chunk of blocks to the array chain and
// threads them all onto the free list, doubling the next chunk's size.
// Callers hold a.mu; the new chain is published as a fresh arenaSnapshot so
// lock-free readers never observe a chunks/chunkOffsets pair torn mid-append.
func (a *allocator) grow() {
	prev := a.arena.Load()
	size := a.nextSize
	offset := uint32(0)
	if len(prev.chunkOffsets) > 0 {
		offset = prev.chunkOffsets[len(prev.chunkOffsets)-1] + uint32(len(prev.chunks[len(prev.chunks)-1]))
	}

	chunk := make([]syncBlock, size)
	for i := range chunk {
		idx := offset + uint32(i) + 1
		chunk[i].init(idx)
		if i+1 < len(chunk) {
			chunk[i].nextFree = offset + uint32(i) + 2
		} else {
			chunk[i].nextFree = a.freeHead
		}
	}

	next := &arenaSnapshot{
		chunks:       append(append([][]syncBlock{}, prev.chunks...), chunk),
		chunkOffsets: append(append([]uint32{}, prev.chunkOffsets...), offset),
	}
	a.arena.Store(next)
	a.freeHead = offset + 1
	a.nextSize *= 2

	a.log.Debugw("monitor: grew sync block arena", "size", size, "total", offset+uint32(size))
}

// reclaim scans for BOUND blocks whose weak-linked Handle has been
// collected and relinks them onto the free list. Callers hold a.mu.
func (a *allocator) reclaim() {
	snap := a.arena.Load()
	for ci := range snap.chunks {
		chunk := snap.chunks[ci]
		for i := range chunk {
			b := &chunk[i]
			if b.isDead() {
				b.state.Store(int32(blockFree))
				b.nextFree = a.freeHead
				a.freeHead = b.index
			}
		}
	}
}

// newBlock returns a fresh FREE sync block, growing the arena (after first
// trying to reclaim dead blocks) if the free list is empty.
func (a *allocator) newBlock() *syncBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.freeHead == 0 {
		a.reclaim()
	}
	if a.freeHead == 0 {
		a.grow()
	}

	b := a.blockAt(a.freeHead)
	a.freeHead = b.nextFree
	return b
}

// lookupOrInsert implements the transient monitor-table step of inflation:
// if another inflation attempt already registered a block for h, its
// refcount is bumped and that block is returned; otherwise a fresh block is
// allocated, bound to h, registered with refcount 1, and returned.
// inserted reports which case occurred.
func (a *allocator) lookupOrInsert(h *Handle) (b *syncBlock, inserted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := h.address()
	if idx, ok := a.table[key]; ok {
		b := a.blockAt(idx)
		b.inflationRefcount.Inc()
		return b, false
	}

	if a.freeHead == 0 {
		a.reclaim()
	}
	if a.freeHead == 0 {
		a.grow()
	}
	b = a.blockAt(a.freeHead)
	a.freeHead = b.nextFree
	b.bind(h)
	b.inflationRefcount.Store(1)
	a.table[key] = b.index

	return b, true
}

// release decrements the inflation refcount for h's table entry; if it
// drops to zero, the block is either finalized back to the free list (if
// this caller lost the race to publish it) or -- if called after a
// successful publish -- simply removed from the transient table.
func (a *allocator) release(h *Handle, finalizeIfZero bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := h.address()
	idx, ok := a.table[key]
	if !ok {
		return
	}
	b := a.blockAt(idx)
	if b.inflationRefcount.Dec() == 0 {
		delete(a.table, key)
		if finalizeIfZero {
			a.finalizeLocked(b)
		}
	}
}

// remove removes h's transient table entry unconditionally, used by the
// thread that wins the race to publish the inflated lock word.
func (a *allocator) remove(h *Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.table, h.address())
}

func (a *allocator) finalizeLocked(b *syncBlock) {
	b.state.Store(int32(blockFree))
	b.nextFree = a.freeHead
	a.freeHead = b.index
}
