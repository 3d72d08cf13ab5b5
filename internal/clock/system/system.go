// Package system provides the wall clock used to stamp runs and artifacts.
package system

import (
	"fmt"
	"time"
	_ "time/tzdata" // day stamps must resolve Australia/Sydney on minimal images

	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
)

// Clock reads time.Now and renders day stamps in a fixed zone.
type Clock struct {
	loc *time.Location
}

// New returns a Clock stamping days in the named IANA zone. An empty name
// means UTC.
func New(zone string) (*Clock, error) {
	if zone == "" {
		return &Clock{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Location is the zone day stamps are rendered in.
func (c Clock) Location() *time.Location {
	return c.loc
}

// Today returns the current day stamp, e.g. "20210701".
func (c Clock) Today() string {
	return c.DayOf(time.Now())
}

// DayOf renders t as a day stamp in the clock's zone.
func (c Clock) DayOf(t time.Time) string {
	return t.In(c.loc).Format(listing.DayLayout)
}
