package monitor

import "github.com/pkg/errors"

// The monitor surface raises exactly these two user-visible errors; every
// other outcome of a blocking call (timeout, alert, interruption) is a
// result code, never an error.
var (
	ErrNullObject                   = errors.New("monitor: null object handle")
	ErrSynchronizationLockViolation = errors.New("monitor: caller does not own the monitor")
)
