package stsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParkerUnparkBeforePark(t *testing.T) {
	var p Parker
	p.Init(1)

	require.True(t, p.TryLock())
	p.UnparkSelf(WaitSuccess)

	status := p.ParkEx(context.Background(), 0, Infinite, nil, false)
	assert.Equal(t, WaitSuccess, status)
}

func TestParkerTimesOut(t *testing.T) {
	var p Parker
	p.Init(1)

	start := time.Now()
	status := p.ParkEx(context.Background(), 0, 30, nil, false)
	assert.Equal(t, WaitTimeout, status)
	assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(25))
}

func TestParkerConcurrentUnpark(t *testing.T) {
	var p Parker
	p.Init(1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Unpark(WaitSuccess)
	}()

	status := p.ParkEx(context.Background(), 0, Infinite, nil, false)
	assert.Equal(t, WaitSuccess, status)
}

func TestParkerTryLockIsExclusive(t *testing.T) {
	var p Parker
	p.Init(1)

	wins := 0
	for i := 0; i < 8; i++ {
		if p.TryLock() {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

