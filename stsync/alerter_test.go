package stsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlerterSetWakesRegisteredParkers(t *testing.T) {
	var a Alerter
	a.Init()

	var p1, p2 Parker
	p1.Init(1)
	p2.Init(1)

	require.True(t, a.RegisterParker(&p1))
	require.True(t, a.RegisterParker(&p2))

	// The parkers are already registered above, so ParkEx is given no
	// alerter of its own to register with a second time.
	done := make(chan int32, 2)
	go func() { done <- p1.ParkEx(context.Background(), 0, Infinite, nil, true) }()
	go func() { done <- p2.ParkEx(context.Background(), 0, Infinite, nil, true) }()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, a.Set())

	for i := 0; i < 2; i++ {
		select {
		case status := <-done:
			assert.Equal(t, WaitAlerted, status)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for alerted parker")
		}
	}
}

func TestAlerterSetIsIdempotent(t *testing.T) {
	var a Alerter
	a.Init()

	assert.True(t, a.Set())
	assert.True(t, a.IsSet())
	assert.False(t, a.Set(), "a second Set call reports it was already set")
}

func TestAlerterRegisterAfterSetFails(t *testing.T) {
	var a Alerter
	a.Init()
	require.True(t, a.Set())

	var p Parker
	p.Init(1)
	assert.False(t, a.RegisterParker(&p))
}

func TestAlerterDeregisterParker(t *testing.T) {
	var a Alerter
	a.Init()

	var p Parker
	p.Init(1)
	require.True(t, a.RegisterParker(&p))
	a.DeregisterParker(&p)

	// p was cleanly unlinked before any Set, so this is still the alerter's
	// first ever transition to alerted.
	assert.True(t, a.Set())
	assert.True(t, a.IsSet())
	assert.False(t, a.Set(), "a second Set call reports it was already set")
}

func TestAlerterDeregisterThenRegisterSurvives(t *testing.T) {
	var a Alerter
	a.Init()

	var p1, p2 Parker
	p1.Init(1)
	p2.Init(1)

	require.True(t, a.RegisterParker(&p1))
	a.DeregisterParker(&p1)
	require.True(t, a.RegisterParker(&p2))

	done := make(chan int32, 1)
	go func() { done <- p2.ParkEx(context.Background(), 0, Infinite, nil, true) }()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, a.Set())

	select {
	case status := <-done:
		assert.Equal(t, WaitAlerted, status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for alerted parker")
	}
}
