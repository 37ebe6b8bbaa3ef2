package stsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpinWaitCountsIterations(t *testing.T) {
	var s SpinWait
	assert.Equal(t, uint32(0), s.Count())

	for i := uint32(1); i <= 10; i++ {
		s.SpinOnce()
		assert.Equal(t, i, s.Count())
	}
}

func TestSpinWaitIterationsReturns(t *testing.T) {
	// Mostly a smoke test: this must return promptly rather than block.
	SpinWaitIterations(5)
}
