package stsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockMutualExclusion(t *testing.T) {
	var l Lock
	l.Init(64)

	var counter int
	var wg sync.WaitGroup
	const goroutines = 16
	const iterations = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				l.Enter(context.Background())
				counter++
				l.Exit()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*iterations, counter)
}

func TestLockTryEnter(t *testing.T) {
	var l Lock
	l.Init(0)

	require.True(t, l.TryEnter())
	assert.False(t, l.TryEnter())
	l.Exit()
	assert.True(t, l.TryEnter())
	l.Exit()
}

func TestLockEnterExTimeout(t *testing.T) {
	var l Lock
	l.Init(0)
	require.True(t, l.TryEnter())

	start := time.Now()
	ok := l.EnterEx(context.Background(), 20)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(15))

	l.Exit()
	assert.True(t, l.EnterEx(context.Background(), Infinite))
}
