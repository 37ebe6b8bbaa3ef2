// Package handle implements a process-wide incrementing id-to-object table,
// the kind of facility a runtime uses to hand callers a small, stable
// integer standing in for a value it cannot (or does not want to) expose a
// real pointer to.
//
// Grounded on original_source/mono/metadata/st-handle.c's
// RegisterHandle_internal / ResolveHandle_internal / RemoveHandle_internal,
// which layer the same scheme over a GC-tracked hash table; here the table
// just holds interface values, since Go's GC already keeps them alive.
package handle

import (
	"context"

	"github.com/dijkstracula/go-stmonitor/stsync"
)

const spinCount = 100

// reservedHandle is never issued: it is skipped during wraparound, the same
// way the original treats ~0 as off-limits.
const reservedHandle uint32 = ^uint32(0)

// Table hands out small, incrementing, non-zero handles for arbitrary
// values and resolves them back. Safe for concurrent use.
type Table struct {
	mu   stsync.Lock
	next uint32
	m    map[uint32]any
}

// NewTable returns an empty, ready-to-use table.
func NewTable() *Table {
	t := &Table{
		next: 1,
		m:    make(map[uint32]any),
	}
	t.mu.Init(spinCount)
	return t
}

// Register allocates a fresh handle for obj and returns it. Registering the
// same object twice yields two independent handles; callers that need
// idempotent registration must de-duplicate upstream, same as the original.
func (t *Table) Register(obj any) uint32 {
	t.mu.Enter(context.Background())
	defer t.mu.Exit()

	h := t.next
	if t.next == reservedHandle-1 {
		t.next = 1
	} else {
		t.next++
	}

	t.m[h] = obj
	return h
}

// Resolve returns the value registered under h, if any.
func (t *Table) Resolve(h uint32) (any, bool) {
	t.mu.Enter(context.Background())
	defer t.mu.Exit()
	v, ok := t.m[h]
	return v, ok
}

// Remove drops h's registration, reporting whether it was present.
func (t *Table) Remove(h uint32) bool {
	t.mu.Enter(context.Background())
	defer t.mu.Exit()
	_, ok := t.m[h]
	delete(t.m, h)
	return ok
}
