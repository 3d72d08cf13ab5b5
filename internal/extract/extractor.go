// Package extract turns rendered result cards into listing records.
//
// Every field is read independently: a selector that matches nothing, or text
// that does not parse, leaves that field nil and extraction carries on with
// the rest of the card.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
)

// ErrDateUnparseable marks a card whose sold tag did not yield a date. The
// returned record is still populated; callers treat it as a data-quality defect.
var ErrDateUnparseable = errors.New("date sold unparseable")

const (
	selPrice         = "[data-testid='listing-card-price']"
	selLink          = "a[href]"
	selAddress1      = "[data-testid='address-line1']"
	selAddress2      = "[data-testid='address-line2']"
	selFeatures      = "[data-testid='property-features']"
	selFeature       = "[data-testid='property-features-feature']"
	selHomeType      = ".css-11n8uyu"
	selImages        = "[data-testid='listing-card-lazy-image'] img"
	selBranding      = "[data-testid='listing-card-branding'] img"
	selTag           = "[data-testid='listing-card-tag'] span"
	priceFinderNote  = " price from APM PriceFinder"
	brandingPrefix   = "Logo for "
	squareMetreUnits = "m²"
)

var (
	leadingInt   = regexp.MustCompile(`^\s*(\d+)`)
	leadingFloat = regexp.MustCompile(`^\s*([\d,]+(?:\.\d+)?)`)
)

// Extractor reads listing fields out of card markup.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract builds a record from one card selection. The error is non-nil only
// when the sold date is missing; it wraps ErrDateUnparseable.
func (e *Extractor) Extract(card *goquery.Selection) (listing.Record, error) {
	rec := listing.Record{
		Link:     attr(card, selLink, "href"),
		Address1: strings.ReplaceAll(text(card, selAddress1), ",", ""),
		Address2: text(card, selAddress2),
		HomeType: listing.NormalizeHomeType(text(card, selHomeType)),
		SoldBy:   strings.TrimPrefix(attr(card, selBranding, "alt"), brandingPrefix),
	}
	rec.Address1 = strings.TrimSpace(rec.Address1)

	if raw := strings.ReplaceAll(text(card, selPrice), priceFinderNote, ""); raw != "" {
		if price, err := listing.ParsePrice(raw); err == nil {
			rec.Price = &price
		}
	}

	if features := card.Find(selFeatures).First(); features.Length() > 0 {
		slots := features.Find(selFeature)
		rec.Beds = slotInt(slots, 0)
		rec.Baths = slotInt(slots, 1)
		rec.Parking = slotInt(slots, 2)
		rec.Area = slotArea(slots, 3)
	}

	card.Find(selImages).Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			rec.ImageLinks = append(rec.ImageLinks, strings.TrimSpace(src))
		}
	})

	rec.MethodAndDateSold = text(card, selTag)
	method, date, err := listing.SplitMethodAndDate(rec.MethodAndDateSold)
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrDateUnparseable, err)
	}
	rec.MethodSold = method
	rec.DateSold = &date
	return rec, nil
}

// ExtractHTML parses a standalone card fragment.
func (e *Extractor) ExtractHTML(fragment string) (listing.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return listing.Record{}, fmt.Errorf("parse card: %w", err)
	}
	return e.Extract(doc.Selection)
}

func text(sel *goquery.Selection, query string) string {
	found := sel.Find(query).First()
	if found.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(found.Text())
}

func attr(sel *goquery.Selection, query, name string) string {
	value, _ := sel.Find(query).First().Attr(name)
	return strings.TrimSpace(value)
}

func slotInt(slots *goquery.Selection, idx int) *int {
	if idx >= slots.Length() {
		return nil
	}
	m := leadingInt.FindStringSubmatch(slots.Eq(idx).Text())
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

func slotArea(slots *goquery.Selection, idx int) *float64 {
	if idx >= slots.Length() {
		return nil
	}
	raw := strings.ReplaceAll(slots.Eq(idx).Text(), squareMetreUnits, "")
	m := leadingFloat.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	area, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	return &area
}
