package stsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReentrantFairLockRecursiveEnter(t *testing.T) {
	var r ReentrantFairLock
	r.Init(0)

	const tid = 42
	require.True(t, r.TryEnter(tid))
	require.True(t, r.TryEnter(tid))
	require.True(t, r.TryEnter(tid))
	assert.Equal(t, uint32(tid), r.Owner())
	assert.Equal(t, uint32(2), r.Nest())

	assert.True(t, r.Exit(tid))
	assert.True(t, r.Exit(tid))
	assert.Equal(t, uint32(tid), r.Owner(), "still held at the outer recursion level")
	assert.True(t, r.Exit(tid))
	assert.Equal(t, uint32(0), r.Owner())
	assert.False(t, r.Exit(tid), "exiting an already-unheld lock fails")
}

func TestReentrantFairLockExitWrongOwnerFails(t *testing.T) {
	var r ReentrantFairLock
	r.Init(0)
	require.True(t, r.TryEnter(1))
	assert.False(t, r.Exit(2))
}

func TestReentrantFairLockTryEnterFailsWhileHeld(t *testing.T) {
	var r ReentrantFairLock
	r.Init(0)
	require.True(t, r.TryEnter(1))
	assert.False(t, r.TryEnter(2))
}

func TestReentrantFairLockExitCompletelyRestoresNest(t *testing.T) {
	var r ReentrantFairLock
	r.Init(0)
	const tid = 7

	require.True(t, r.TryEnter(tid))
	require.True(t, r.TryEnter(tid))
	require.True(t, r.TryEnter(tid))

	nest, ok := r.ExitCompletely(tid)
	require.True(t, ok)
	assert.Equal(t, uint32(2), nest)
	assert.Equal(t, uint32(0), r.Owner())

	require.True(t, r.TryEnter(tid))
	r.RestoreNest(nest)
	assert.Equal(t, nest, r.Nest())

	for i := uint32(0); i <= nest; i++ {
		require.True(t, r.Exit(tid))
	}
	assert.Equal(t, uint32(0), r.Owner())
}

func TestReentrantFairLockTryEnterExTimesOut(t *testing.T) {
	var r ReentrantFairLock
	r.Init(0)
	require.True(t, r.TryEnter(1))

	start := time.Now()
	status := r.TryEnterEx(context.Background(), 2, 20, nil, false)
	assert.Equal(t, WaitTimeout, status)
	assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(15))
}

func TestReentrantFairLockBlockedEnterSucceedsAfterRelease(t *testing.T) {
	var r ReentrantFairLock
	r.Init(0)
	require.True(t, r.TryEnter(1))

	acquired := make(chan struct{})
	go func() {
		r.Enter(context.Background(), 2)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("acquired while still held")
	case <-time.After(30 * time.Millisecond):
	}

	assert.True(t, r.Exit(1))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("never acquired after release")
	}
	assert.Equal(t, uint32(2), r.Owner())
}

func TestReentrantFairLockMutualExclusion(t *testing.T) {
	var r ReentrantFairLock
	r.Init(64)

	var counter int
	var wg sync.WaitGroup
	const goroutines = 16
	const iterations = 100

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(tid uint32) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				r.Enter(context.Background(), tid)
				counter++
				require.True(t, r.Exit(tid))
			}
		}(uint32(i + 1))
	}
	wg.Wait()

	assert.Equal(t, goroutines*iterations, counter)
}
