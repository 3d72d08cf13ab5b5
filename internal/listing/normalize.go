package listing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SoldDateLayout is the calendar format at the tail of the sold tag, e.g. "30 Jun 2021".
const SoldDateLayout = "2 Jan 2006"

// soldDateWidth is the fixed width of the trailing date substring.
const soldDateWidth = 11

// ErrNoDate is returned when the sold tag does not end in a parseable date.
var ErrNoDate = errors.New("sold tag has no parseable date")

var homeTypeAliases = map[string]string{
	"Apartment / Unit / Flat": "Unit",
}

var titleCaser = cases.Title(language.English)

// ParsePrice strips currency symbols and thousands separators from a formatted
// price ("$1,250,000") and parses the remainder as an integer.
func ParsePrice(raw string) (int64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.NewReplacer("$", "", ",", "", " ", "").Replace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("parse price %q: empty", raw)
	}
	value, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return value, nil
}

// NormalizeHomeType maps site labels onto the category names used downstream.
// Applying it twice yields the same value.
func NormalizeHomeType(label string) string {
	label = strings.TrimSpace(label)
	if alias, ok := homeTypeAliases[label]; ok {
		return alias
	}
	return label
}

// SplitMethodAndDate separates the combined sold tag ("SOLD BY AUCTION 30 JUN 2021")
// into a title-cased method ("By Auction") and the sale date.
func SplitMethodAndDate(raw string) (string, time.Time, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < soldDateWidth-1 {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrNoDate, raw)
	}
	cut := len(raw) - soldDateWidth
	if cut < 0 {
		cut = 0
	}
	datePart := strings.TrimSpace(raw[cut:])
	date, err := time.Parse(SoldDateLayout, datePart)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrNoDate, raw)
	}
	return normalizeMethod(raw[:cut]), date, nil
}

func normalizeMethod(prefix string) string {
	method := strings.TrimSpace(prefix)
	if len(method) >= 4 && strings.EqualFold(method[:4], "sold") {
		method = strings.TrimSpace(method[4:])
	}
	return titleCaser.String(strings.ToLower(method))
}
