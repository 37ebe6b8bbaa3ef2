package stsync

import "runtime"

// YieldFrequency bounds how many spin iterations SpinOnce accumulates before
// it falls back to a full goroutine yield, mirroring the calibration the
// original SlimThreading spin-wait used for OS thread scheduling.
const YieldFrequency = 4000

// IsMultiProcessor reports whether the host has more than one logical CPU.
// On a uniprocessor, spinning can never help -- only yielding can -- so
// every spin-wait decision below consults it.
func IsMultiProcessor() bool {
	return runtime.NumCPU() > 1
}

// SpinWaitIterations yields the scheduler n times in a row. Used both as the
// low-level primitive behind SpinOnce and directly by callers (Lock,
// LockedQueue) that spin a fixed number of iterations before committing to a
// blocking park.
func SpinWaitIterations(n uint32) {
	for ; n > 0; n-- {
		runtime.Gosched()
	}
}

// SpinWait is a calibrated backoff spinner: each call to SpinOnce yields the
// scheduler proportionally more times as the count grows (the count wraps
// every YieldFrequency calls), trading CPU for latency while a lock is
// expected to be held briefly.
type SpinWait struct {
	count uint32
}

// SpinOnce performs one step of the backoff. On a multiprocessor it
// interpolates between a handful of Gosched calls and a full yield,
// recalibrating every YieldFrequency iterations; on a uniprocessor it always
// yields outright, since spinning cannot make progress for us there.
func (s *SpinWait) SpinOnce() {
	s.count++
	count := s.count & ^uint32(1<<31)
	if !IsMultiProcessor() {
		runtime.Gosched()
		return
	}
	remainder := count % YieldFrequency
	if remainder > 0 {
		SpinWaitIterations(uint32(1.0 + float32(remainder)*0.032))
	} else {
		runtime.Gosched()
	}
}

// Count returns the number of times SpinOnce has been called.
func (s *SpinWait) Count() uint32 {
	return s.count
}
