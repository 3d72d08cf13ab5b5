package artifact

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
)

// Columns is the header shared by page, quarantine, and collated artifacts.
var Columns = []string{
	"link",
	"price",
	"address1",
	"address2",
	"beds",
	"baths",
	"parking",
	"sqm",
	"home_type",
	"image_links",
	"sold_by",
	"method_and_date_sold",
	"method_sold",
	"date_sold",
}

// EncodeRecords writes the header followed by one row per record. Nil fields
// become empty cells.
func EncodeRecords(w io.Writer, records []listing.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		row, err := encodeRow(rec)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// DecodeRecords reads rows written by EncodeRecords. Columns are matched by
// header name; an empty input yields no records.
func DecodeRecords(r io.Reader) ([]listing.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, col := range Columns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var records []listing.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		rec, err := decodeRow(func(col string) string {
			if i := index[col]; i < len(row) {
				return row[i]
			}
			return ""
		})
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
}

func encodeRow(rec listing.Record) ([]string, error) {
	images := rec.ImageLinks
	if images == nil {
		images = []string{}
	}
	imageJSON, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("marshal image links: %w", err)
	}
	var dateSold string
	if rec.DateSold != nil {
		dateSold = rec.DateSold.Format(listing.DateLayout)
	}
	var price string
	if rec.Price != nil {
		price = strconv.FormatInt(*rec.Price, 10)
	}
	var area string
	if rec.Area != nil {
		area = strconv.FormatFloat(*rec.Area, 'f', -1, 64)
	}
	return []string{
		rec.Link,
		price,
		rec.Address1,
		rec.Address2,
		formatInt(rec.Beds),
		formatInt(rec.Baths),
		formatInt(rec.Parking),
		area,
		rec.HomeType,
		string(imageJSON),
		rec.SoldBy,
		rec.MethodAndDateSold,
		rec.MethodSold,
		dateSold,
	}, nil
}

func decodeRow(cell func(string) string) (listing.Record, error) {
	rec := listing.Record{
		Link:              cell("link"),
		Address1:          cell("address1"),
		Address2:          cell("address2"),
		HomeType:          cell("home_type"),
		SoldBy:            cell("sold_by"),
		MethodAndDateSold: cell("method_and_date_sold"),
		MethodSold:        cell("method_sold"),
	}
	var err error
	if v := cell("price"); v != "" {
		price, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return rec, fmt.Errorf("price %q: %w", v, perr)
		}
		rec.Price = &price
	}
	if rec.Beds, err = parseInt(cell("beds")); err != nil {
		return rec, fmt.Errorf("beds: %w", err)
	}
	if rec.Baths, err = parseInt(cell("baths")); err != nil {
		return rec, fmt.Errorf("baths: %w", err)
	}
	if rec.Parking, err = parseInt(cell("parking")); err != nil {
		return rec, fmt.Errorf("parking: %w", err)
	}
	if v := cell("sqm"); v != "" {
		area, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return rec, fmt.Errorf("sqm %q: %w", v, perr)
		}
		rec.Area = &area
	}
	if v := cell("image_links"); v != "" {
		if err := json.Unmarshal([]byte(v), &rec.ImageLinks); err != nil {
			return rec, fmt.Errorf("image_links: %w", err)
		}
		if len(rec.ImageLinks) == 0 {
			rec.ImageLinks = nil
		}
	}
	if v := cell("date_sold"); v != "" {
		d, perr := time.Parse(listing.DateLayout, v)
		if perr != nil {
			return rec, fmt.Errorf("date_sold %q: %w", v, perr)
		}
		rec.DateSold = &d
	}
	return rec, nil
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func parseInt(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", v, err)
	}
	return &n, nil
}
