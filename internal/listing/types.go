// Package listing defines the sold-listing record model and the page units
// that identify each fetch target.
package listing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DayLayout formats the day-stamp used in artifact names.
const DayLayout = "20060102"

// DateLayout formats date_sold when records are serialized.
const DateLayout = "2006-01-02"

// ErrInvalidUnit is returned when a PageUnit cannot address an artifact.
var ErrInvalidUnit = errors.New("invalid page unit")

var localityPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Record is one sold listing extracted from a result card. Nullable fields are
// pointers; a nil value means the card did not yield that attribute.
type Record struct {
	Link              string
	Price             *int64
	Address1          string
	Address2          string
	Beds              *int
	Baths             *int
	Parking           *int
	Area              *float64
	HomeType          string
	ImageLinks        []string
	SoldBy            string
	MethodAndDateSold string
	MethodSold        string
	DateSold          *time.Time
}

// PageUnit identifies one page of one locality's results on one day.
type PageUnit struct {
	Locality string
	Page     int
	Day      string
}

// PaddedPage renders the page number zero-padded to two digits.
func (u PageUnit) PaddedPage() string {
	return fmt.Sprintf("%02d", u.Page)
}

// String implements fmt.Stringer.
func (u PageUnit) String() string {
	return fmt.Sprintf("%s/p%s/%s", u.Locality, u.PaddedPage(), u.Day)
}

// Validate checks the unit can be mapped onto artifact paths.
func (u PageUnit) Validate() error {
	if !localityPattern.MatchString(u.Locality) {
		return fmt.Errorf("%w: locality %q", ErrInvalidUnit, u.Locality)
	}
	if u.Page <= 0 {
		return fmt.Errorf("%w: page must be > 0", ErrInvalidUnit)
	}
	if _, err := time.Parse(DayLayout, u.Day); err != nil {
		return fmt.Errorf("%w: day %q", ErrInvalidUnit, u.Day)
	}
	return nil
}

// LocalityFromSuburb builds the locality slug used by the listings site, e.g.
// ("Surry Hills", "NSW", "2010") -> "surry-hills-nsw-2010".
func LocalityFromSuburb(suburb, state, postcode string) string {
	parts := strings.Fields(strings.ToLower(suburb))
	slug := strings.Join(parts, "-")
	return fmt.Sprintf("%s-%s-%s", slug, strings.ToLower(strings.TrimSpace(state)), strings.TrimSpace(postcode))
}

// EarliestDateSold returns the earliest parsed date_sold among records. ok is
// false when no record carries a date.
func EarliestDateSold(records []Record) (earliest time.Time, ok bool) {
	for _, rec := range records {
		if rec.DateSold == nil {
			continue
		}
		if !ok || rec.DateSold.Before(earliest) {
			earliest = *rec.DateSold
			ok = true
		}
	}
	return earliest, ok
}
