package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dijkstracula/go-stmonitor/stsync"
)

func TestEnterExitMutualExclusion(t *testing.T) {
	h := NewHandle("shared")

	var counter int
	var wg sync.WaitGroup
	const goroutines = 16
	const iterations = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tid := stsync.NewThreadID()
			for j := 0; j < iterations; j++ {
				require.NoError(t, Enter(context.Background(), h, tid))
				counter++
				require.NoError(t, Exit(h, tid))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*iterations, counter)
}

func TestRecursiveEnter(t *testing.T) {
	h := NewHandle(nil)
	tid := stsync.NewThreadID()

	require.NoError(t, Enter(context.Background(), h, tid))
	require.NoError(t, Enter(context.Background(), h, tid))
	require.NoError(t, Enter(context.Background(), h, tid))

	require.NoError(t, Exit(h, tid))
	require.NoError(t, Exit(h, tid))

	other := stsync.NewThreadID()
	ok, err := TryEnter(h, other, 0)
	require.NoError(t, err)
	assert.False(t, ok, "still held by the outer recursion level")

	require.NoError(t, Exit(h, tid))

	ok, err = TryEnter(h, other, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, Exit(h, other))
}

func TestExitWithoutOwnershipFails(t *testing.T) {
	h := NewHandle(nil)
	tid := stsync.NewThreadID()
	err := Exit(h, tid)
	assert.ErrorIs(t, err, ErrSynchronizationLockViolation)
}

func TestEnterNullHandle(t *testing.T) {
	err := Enter(context.Background(), nil, stsync.NewThreadID())
	assert.ErrorIs(t, err, ErrNullObject)
}

func TestContendedEnterInflates(t *testing.T) {
	h := NewHandle(nil)
	owner := stsync.NewThreadID()
	require.NoError(t, Enter(context.Background(), h, owner))

	contender := stsync.NewThreadID()
	acquired := make(chan struct{})
	go func() {
		require.NoError(t, Enter(context.Background(), h, contender))
		close(acquired)
		_ = Exit(h, contender)
	}()

	select {
	case <-acquired:
		t.Fatal("contender acquired the monitor while it was still held")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, Exit(h, owner))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("contender never acquired the monitor after release")
	}
}

func TestWaitPulse(t *testing.T) {
	h := NewHandle(nil)
	tid := stsync.NewThreadID()
	waiterTid := stsync.NewThreadID()

	entered := make(chan struct{})
	woken := make(chan bool, 1)

	go func() {
		require.NoError(t, Enter(context.Background(), h, waiterTid))
		close(entered)
		ok, err := Wait(context.Background(), h, waiterTid, int32(stsync.Infinite))
		require.NoError(t, err)
		woken <- ok
		require.NoError(t, Exit(h, waiterTid))
	}()

	<-entered
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, Enter(context.Background(), h, tid))
	require.NoError(t, Pulse(h, tid))
	require.NoError(t, Exit(h, tid))

	select {
	case ok := <-woken:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter was never pulsed")
	}
}

func TestWaitTimeout(t *testing.T) {
	h := NewHandle(nil)
	tid := stsync.NewThreadID()

	require.NoError(t, Enter(context.Background(), h, tid))
	ok, err := Wait(context.Background(), h, tid, 20)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, Exit(h, tid))
}

func TestPulseAllWakesEveryWaiter(t *testing.T) {
	h := NewHandle(nil)
	const waiters = 5

	var wg sync.WaitGroup
	woken := make(chan bool, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tid := stsync.NewThreadID()
			require.NoError(t, Enter(context.Background(), h, tid))
			ok, err := Wait(context.Background(), h, tid, int32(stsync.Infinite))
			require.NoError(t, err)
			woken <- ok
			require.NoError(t, Exit(h, tid))
		}()
	}

	time.Sleep(50 * time.Millisecond)

	pulser := stsync.NewThreadID()
	require.NoError(t, Enter(context.Background(), h, pulser))
	require.NoError(t, PulseAll(h, pulser))
	require.NoError(t, Exit(h, pulser))

	wg.Wait()
	close(woken)
	for ok := range woken {
		assert.True(t, ok)
	}
}

func TestHashStableAndCoexistsWithLocking(t *testing.T) {
	h := NewHandle(nil)

	hash1 := Hash(h, nil)
	hash2 := Hash(h, nil)
	assert.Equal(t, hash1, hash2)

	tid := stsync.NewThreadID()
	require.NoError(t, Enter(context.Background(), h, tid))
	hash3 := Hash(h, tid)
	require.NoError(t, Exit(h, tid))

	assert.Equal(t, hash1, hash3)
}

func TestHashOnContendedFlatLock(t *testing.T) {
	h := NewHandle(nil)
	tid := stsync.NewThreadID()
	require.NoError(t, Enter(context.Background(), h, tid))

	hashed := make(chan int32, 1)
	go func() {
		hashed <- Hash(h, nil)
	}()

	// Hash contends for the monitor like any other acquirer, so it can only
	// install the hash once the owner releases its flat lock.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, Exit(h, tid))

	select {
	case hv := <-hashed:
		assert.Equal(t, Hash(h, tid), hv)
	case <-time.After(time.Second):
		t.Fatal("hash() on a contended flat lock never returned after the owner released it")
	}
}

func TestRecursionOverflowInflates(t *testing.T) {
	h := NewHandle(nil)
	tid := stsync.NewThreadID()

	for i := 0; i <= maxNest+2; i++ {
		require.NoError(t, Enter(context.Background(), h, tid))
	}
	for i := 0; i <= maxNest+2; i++ {
		require.NoError(t, Exit(h, tid))
	}

	other := stsync.NewThreadID()
	ok, err := TryEnter(h, other, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, Exit(h, other))
}

func TestLocksDumpReflectsHeldLock(t *testing.T) {
	h := NewHandle(nil)
	tid := stsync.NewThreadID()

	// Flat locks never appear in LocksDump; force inflation via contention.
	blocker := stsync.NewThreadID()
	require.NoError(t, Enter(context.Background(), h, blocker))
	go func() {
		_ = Enter(context.Background(), h, tid)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, Exit(h, blocker))
	time.Sleep(20 * time.Millisecond)

	found := false
	for _, row := range LocksDump() {
		if row.Owner == tid.ID() {
			found = true
		}
	}
	assert.True(t, found)
}
