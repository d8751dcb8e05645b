package system

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the wall clock.
type SystemClock struct{}

// NewSystemClock constructs a SystemClock.
func NewSystemClock() SystemClock {
	return SystemClock{}
}

// Now returns the current wall-clock time.
func (systemClock SystemClock) Now() time.Time {
	return time.Now()
}
