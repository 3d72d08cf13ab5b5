package listing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{name: "formatted millions", raw: "$1,250,000", want: 1250000},
		{name: "no separators", raw: "$950000", want: 950000},
		{name: "surrounding space", raw: "  $720,500 ", want: 720500},
		{name: "withheld", raw: "Price Withheld", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePrice(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeHomeTypeIsIdempotent(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Unit", NormalizeHomeType("Apartment / Unit / Flat"))
	require.Equal(t, "Unit", NormalizeHomeType(NormalizeHomeType("Apartment / Unit / Flat")))
	require.Equal(t, "House", NormalizeHomeType(" House "))
	require.Equal(t, "Townhouse", NormalizeHomeType(NormalizeHomeType("Townhouse")))
}

func TestSplitMethodAndDate(t *testing.T) {
	t.Parallel()

	method, date, err := SplitMethodAndDate("SOLD BY AUCTION 30 JUN 2021")
	require.NoError(t, err)
	require.Equal(t, "By Auction", method)
	require.Equal(t, time.Date(2021, time.June, 30, 0, 0, 0, 0, time.UTC), date)

	method, date, err = SplitMethodAndDate("Sold prior to auction 1 Jul 2021")
	require.NoError(t, err)
	require.Equal(t, "Prior To Auction", method)
	require.Equal(t, time.Date(2021, time.July, 1, 0, 0, 0, 0, time.UTC), date)

	_, _, err = SplitMethodAndDate("SOLD BY PRIVATE TREATY")
	require.True(t, errors.Is(err, ErrNoDate))

	_, _, err = SplitMethodAndDate("")
	require.ErrorIs(t, err, ErrNoDate)
}

func TestPageUnitValidateAndPadding(t *testing.T) {
	t.Parallel()

	unit := PageUnit{Locality: "surry-hills-nsw-2010", Page: 5, Day: "20240102"}
	require.NoError(t, unit.Validate())
	require.Equal(t, "05", unit.PaddedPage())
	require.Equal(t, "surry-hills-nsw-2010/p05/20240102", unit.String())

	require.ErrorIs(t, PageUnit{Locality: "../etc", Page: 1, Day: "20240102"}.Validate(), ErrInvalidUnit)
	require.ErrorIs(t, PageUnit{Locality: "a-nsw-2000", Page: 0, Day: "20240102"}.Validate(), ErrInvalidUnit)
	require.ErrorIs(t, PageUnit{Locality: "a-nsw-2000", Page: 1, Day: "2024-01-02"}.Validate(), ErrInvalidUnit)
}

func TestLocalityFromSuburb(t *testing.T) {
	t.Parallel()

	require.Equal(t, "surry-hills-nsw-2010", LocalityFromSuburb("Surry  Hills", "NSW", "2010"))
	require.Equal(t, "manly-nsw-2095", LocalityFromSuburb("Manly", "nsw", " 2095"))
}

func TestEarliestDateSold(t *testing.T) {
	t.Parallel()

	_, ok := EarliestDateSold(nil)
	require.False(t, ok)

	d1 := time.Date(2021, 7, 3, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC)
	got, ok := EarliestDateSold([]Record{{DateSold: &d1}, {}, {DateSold: &d2}})
	require.True(t, ok)
	require.Equal(t, d2, got)
}
