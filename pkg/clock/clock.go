// Package clock abstracts wall-clock time and one-shot timers so that idle
// timeouts and reconnect backoff can be driven deterministically in tests.
package clock

import "time"

// Clock provides the current time and schedules deferred callbacks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a callback scheduled by AfterFunc.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or the timer was already stopped.
	Stop() bool
}

// Real is a Clock backed by the time package.
type Real struct{}

// New returns the wall clock.
func New() Real {
	return Real{}
}

// Now returns time.Now.
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Verify interface compliance.
var _ Clock = Real{}
