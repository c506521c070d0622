// Package system provides a real clock implementation.
package system

import "time"

// Clock implements market.Clock using time.Now in a fixed location, so
// "today" follows the exchange calendar rather than the host timezone.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting times in loc. A nil loc means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}
