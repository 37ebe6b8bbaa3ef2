package stsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockedQueueLockAbortsForDeadEntry(t *testing.T) {
	var q LockedQueue
	q.Init(0)

	var dead ListEntry
	dead.Flink = &dead
	assert.False(t, q.Lock(&dead))
}

func TestLockedQueueEnqueueDirectWhenFree(t *testing.T) {
	var q LockedQueue
	q.Init(0)

	var parker Parker
	parker.Init(1)
	var wb WaitBlock
	wb.Init(&parker, 5, WaitSuccess)

	lockedHere, first := q.Enqueue(&wb)
	assert.True(t, lockedHere, "Enqueue on a free queue takes the admission lock itself")
	assert.True(t, first)

	require.True(t, q.TryUnlock(false))
	assert.Equal(t, int32(5), q.FrontRequest())
}

func TestLockedQueueEnqueueWhileLockedGoesOnContentionStack(t *testing.T) {
	var q LockedQueue
	q.Init(0)
	require.True(t, q.Lock(nil))

	var parker Parker
	parker.Init(1)
	var wb WaitBlock
	wb.Init(&parker, 7, WaitSuccess)

	lockedHere, first := q.Enqueue(&wb)
	assert.False(t, lockedHere, "the admission lock is already held elsewhere")
	assert.True(t, first, "the stacked entry becomes the logical head once flushed")

	require.True(t, q.TryUnlock(true))
	assert.Equal(t, int32(7), q.FrontRequest())
}

func TestLockedQueueLockThenTryUnlockRoundTrips(t *testing.T) {
	var q LockedQueue
	q.Init(0)

	require.True(t, q.Lock(nil))
	assert.True(t, q.TryUnlock(false))

	// The admission lock is free again and can be re-taken.
	require.True(t, q.Lock(nil))
	assert.True(t, q.TryUnlock(false))
}
