// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reports the current time in UTC, truncated to microseconds so values
// survive a round trip through the post stores unchanged.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
