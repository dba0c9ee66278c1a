// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements media.Clock with UTC wall time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since reports the elapsed time from t according to c.
func (c Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
