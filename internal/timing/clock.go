// Package timing samples the clocks each cycle and grades the result against
// the expected cadence.
package timing

import "time"

// Clock provides the two readings taken at every cycle. Monotonic is measured
// in milliseconds from an arbitrary origin and must never run backwards; Wall
// is milliseconds since the Unix epoch and carries no such guarantee.
type Clock interface {
	Monotonic() float64
	Wall() float64
}

// SystemClock reads the process monotonic clock, offset by a base so that a
// chain restored from a previous run keeps strictly increasing readings.
type SystemClock struct {
	origin time.Time
	base   float64
}

// NewSystemClock returns a clock whose monotonic readings start just above
// base milliseconds.
func NewSystemClock(base float64) *SystemClock {
	return &SystemClock{origin: time.Now(), base: base}
}

func (c *SystemClock) Monotonic() float64 {
	return c.base + float64(time.Since(c.origin).Nanoseconds())/1e6
}

func (c *SystemClock) Wall() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}
