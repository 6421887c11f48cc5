package clock

import "time"

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current time from system clock in local time.
// Params: none.
// Returns: current timestamp.
type RealClock struct{}

// Now returns current local time; subdue windows are evaluated in it.
// Params: none.
// Returns: current timestamp.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Func adapts a plain function to Clock.
// Params: function returning current time.
// Returns: clock reading through the function.
type Func func() time.Time

// Now calls the wrapped function.
func (f Func) Now() time.Time {
	return f()
}

// Unix returns current clock time in unix seconds.
// Params: clock to read.
// Returns: unix timestamp.
func Unix(c Clock) int64 {
	return c.Now().Unix()
}
