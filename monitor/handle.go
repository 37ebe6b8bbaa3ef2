package monitor

import (
	"reflect"

	"go.uber.org/atomic"
)

// Handle stands in for "a managed object with a lock word in its header".
// Go gives library code no way to splice an extra machine word into an
// arbitrary value's header, so application code that wants monitor
// semantics on some value wraps it in a Handle and passes the Handle to
// every Enter/Exit/Wait/Pulse/Hash call instead of the value itself.
//
// A Handle's identity (used for both mutual exclusion and identity
// hashing) is its own heap address, which -- like a real object's address
// before a moving collector relocates it -- is stable for the Handle's
// lifetime.
type Handle struct {
	syncSlot atomic.Uint64
	payload  any
}

// NewHandle wraps payload in a fresh, unlocked Handle.
func NewHandle(payload any) *Handle {
	return &Handle{payload: payload}
}

// Payload returns the value the Handle was created for.
func (h *Handle) Payload() any { return h.payload }

func (h *Handle) address() uintptr {
	return reflect.ValueOf(h).Pointer()
}

func (h *Handle) load() lockWord {
	return lockWord(h.syncSlot.Load())
}

func (h *Handle) cas(old, new lockWord) bool {
	return h.syncSlot.CAS(uint64(old), uint64(new))
}

func (h *Handle) store(w lockWord) {
	h.syncSlot.Store(uint64(w))
}

// FastTryEnter attempts the flat-lock fast path inline: an uncontended
// acquire of a never-locked object, or a recursive re-acquire by the
// current owner. It reports (acquired, needsSlowPath); needsSlowPath is
// true when the caller must fall back to Enter's full contention /
// inflation handling (contention, recursion overflow, or an existing
// inflated/thin-hash state).
//
// Supplemented from original_source/mono/metadata/monitor.c's inline
// fast-path status check, which the JIT's fast-path codegen (out of scope
// here, see spec.md Non-goals) consults before emitting a call into the
// slow runtime helper.
func (h *Handle) FastTryEnter(tid uint32) (acquired, needsSlowPath bool) {
	w := h.load()
	if w == 0 {
		if h.cas(0, packFlat(tid, 0)) {
			return true, false
		}
		return false, true
	}
	if w.isFlat() && w.flatOwner() == tid {
		if w.flatNest() == maxNest {
			return false, true
		}
		// Safe without CAS: only the owner ever mutates nest while flat.
		h.store(packFlat(tid, w.flatNest()+1))
		return true, false
	}
	return false, true
}
