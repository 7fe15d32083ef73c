// Package system provides the wall clock used to decide "today" for a run.
package system

import (
	"fmt"
	"time"
)

// DefaultZone is where both publishers print their issues.
const DefaultZone = "Asia/Hong_Kong"

// Clock implements epaper.Clock in a fixed location so the date boundary matches the publisher's.
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

// NewInZone loads the named IANA zone, falling back to a fixed +08:00 offset for Hong Kong
// when the host has no tzdata.
func NewInZone(name string) (*Clock, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name != DefaultZone {
			return nil, fmt.Errorf("load time zone %q: %w", name, err)
		}
		loc = time.FixedZone("HKT", 8*60*60)
	}
	return New(loc), nil
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the configured zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}
