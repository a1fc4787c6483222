package cellsim

import "time"

// Clock returns milliseconds since a fixed epoch. DelayQueue takes one
// as a constructor argument so tests can drive time explicitly instead
// of racing the wall clock; the default is a thin wrapper over
// time.Now().
type Clock func() int64

// clockEpoch anchors SystemClock to the Unix epoch once; time.Since then
// advances it by Go's monotonic clock reading.
var clockEpoch = time.Now()

// SystemClock is the default Clock, monotonic milliseconds since the
// Unix epoch.
func SystemClock() int64 {
	return clockEpoch.UnixMilli() + time.Since(clockEpoch).Milliseconds()
}
