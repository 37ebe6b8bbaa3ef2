package stsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutantTryAcquireIsExclusive(t *testing.T) {
	var m Mutant
	m.Init(1, 0)

	assert.True(t, m.TryAcquire())
	assert.False(t, m.TryAcquire())
}

func TestMutantSlowWaitTimesOut(t *testing.T) {
	var m Mutant
	m.Init(1, 0)
	require.True(t, m.TryAcquire())

	start := time.Now()
	status := m.SlowWait(context.Background(), 20, nil, false)
	assert.Equal(t, WaitTimeout, status)
	assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(15))
}

func TestMutantSlowWaitBlocksUntilRelease(t *testing.T) {
	var m Mutant
	m.Init(1, 0)
	require.True(t, m.TryAcquire())

	done := make(chan int32, 1)
	go func() { done <- m.SlowWait(context.Background(), Infinite, nil, false) }()

	select {
	case <-done:
		t.Fatal("slow wait returned before release")
	case <-time.After(30 * time.Millisecond):
	}

	m.release()

	select {
	case status := <-done:
		assert.Equal(t, WaitSuccess, status)
	case <-time.After(time.Second):
		t.Fatal("slow wait never returned after release")
	}
}

func TestMutantSlowWaitIsFIFO(t *testing.T) {
	var m Mutant
	m.Init(1, 0)
	require.True(t, m.TryAcquire())

	order := make(chan int, 2)
	first := make(chan struct{})

	go func() {
		m.SlowWait(context.Background(), Infinite, nil, false)
		order <- 1
		close(first)
	}()
	time.Sleep(10 * time.Millisecond) // ensure the first waiter enqueues before the second

	go func() {
		m.SlowWait(context.Background(), Infinite, nil, false)
		order <- 2
	}()
	time.Sleep(10 * time.Millisecond)

	m.release()
	<-first
	m.release()

	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
}
