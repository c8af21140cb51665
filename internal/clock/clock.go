package clock

import "time"

// Clock supplies the current time to throttle, tracker and stores.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads UTC time from the system clock.
type RealClock struct{}

// Now returns current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a settable clock for deterministic tick sequences.
// Params: current instant stored in At.
// Returns: At on every Now call.
type Fixed struct {
	At time.Time
}

// Now returns the configured instant.
func (c *Fixed) Now() time.Time {
	return c.At
}

// Advance moves the clock forward.
// Params: delta to add.
// Returns: none.
func (c *Fixed) Advance(delta time.Duration) {
	c.At = c.At.Add(delta)
}
