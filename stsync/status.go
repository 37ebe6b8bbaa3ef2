package stsync

// Wait-status codes returned by every blocking primitive in this package.
// These are result codes, never errors: a timeout or an alert is a normal,
// expected outcome of a bounded or cancellable wait.
const (
	WaitTimeout     int32 = 0
	WaitSuccess     int32 = 1
	WaitAlerted     int32 = 257
	WaitInterrupted int32 = 512
)

// Infinite is the timeout sentinel meaning "wait forever".
const Infinite = -1
