// Package counts probes each locality's landing page for its total number of
// sold listings and checkpoints the tally to CSV as it goes.
package counts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/session"
)

// Unknown is recorded when a locality's count could not be read.
const Unknown = -1

var header = []string{"locality", "listings"}

// Sessions acquires, rotates, and releases browser sessions.
type Sessions interface {
	Acquire(ctx context.Context, headless bool) (*session.Handle, error)
	Rotate(ctx context.Context, current *session.Handle) (*session.Handle, error)
	Release(h *session.Handle)
}

// URLBuilder builds result-page URLs; page 0 is the landing page.
// fetcher.Fetcher satisfies it.
type URLBuilder interface {
	PageURL(locality string, page int) string
}

// Checkpointer persists the tally atomically. artifact.Store satisfies it.
type Checkpointer interface {
	CountsPath() string
	WriteAtomic(path string, fill func(io.Writer) error) error
}

// Config holds the probe settings.
type Config struct {
	CountSelector string
	// RotateEvery replaces the session after this many localities.
	RotateEvery int
	Headless    bool
}

// Count is one locality's listing total.
type Count struct {
	Locality string
	Listings int
}

// Prober walks localities through one session at a time.
type Prober struct {
	cfg      Config
	sessions Sessions
	urls     URLBuilder
	out      Checkpointer
	logger   *zap.Logger
}

// New validates cfg and builds a Prober.
func New(cfg Config, sessions Sessions, urls URLBuilder, out Checkpointer, logger *zap.Logger) (*Prober, error) {
	if strings.TrimSpace(cfg.CountSelector) == "" {
		return nil, errors.New("source.count_selector must be set")
	}
	if cfg.RotateEvery <= 0 {
		return nil, errors.New("counts.rotate_every must be > 0")
	}
	if sessions == nil || urls == nil || out == nil {
		return nil, errors.New("sessions, url builder and checkpointer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{cfg: cfg, sessions: sessions, urls: urls, out: out, logger: logger}, nil
}

// Probe reads the listing count for each locality. The CSV is rewritten at
// every session rotation and once more at the end, including when ctx ends
// early.
func (p *Prober) Probe(ctx context.Context, localities []string) ([]Count, error) {
	handle, err := p.sessions.Acquire(ctx, p.cfg.Headless)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer func() { p.sessions.Release(handle) }()

	counts := make([]Count, 0, len(localities))
	for i, loc := range localities {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && i%p.cfg.RotateEvery == 0 {
			if err := p.checkpoint(counts); err != nil {
				return counts, err
			}
			next, err := p.sessions.Rotate(ctx, handle)
			handle = next
			if err != nil {
				return counts, fmt.Errorf("rotate session: %w", err)
			}
		}
		n := p.probeOne(ctx, handle, loc)
		p.logger.Info("listing count", zap.String("locality", loc), zap.Int("listings", n))
		counts = append(counts, Count{Locality: loc, Listings: n})
	}
	if err := p.checkpoint(counts); err != nil {
		return counts, err
	}
	if err := ctx.Err(); err != nil {
		return counts, fmt.Errorf("probe counts: %w", err)
	}
	return counts, nil
}

func (p *Prober) probeOne(ctx context.Context, handle *session.Handle, locality string) int {
	html, err := handle.Render(ctx, p.urls.PageURL(locality, 0))
	if err != nil {
		p.logger.Warn("count page render failed", zap.String("locality", locality), zap.Error(err))
		return Unknown
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		p.logger.Warn("count page parse failed", zap.String("locality", locality), zap.Error(err))
		return Unknown
	}
	return ParseCount(doc.Find(p.cfg.CountSelector).First().Text())
}

// ParseCount reads the leading integer of text such as "1,234 Properties",
// returning Unknown when there is none.
func ParseCount(text string) int {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Unknown
	}
	n, err := strconv.Atoi(strings.ReplaceAll(fields[0], ",", ""))
	if err != nil || n < 0 {
		return Unknown
	}
	return n
}

func (p *Prober) checkpoint(counts []Count) error {
	path := p.out.CountsPath()
	err := p.out.WriteAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, c := range counts {
			if err := cw.Write([]string{c.Locality, strconv.Itoa(c.Listings)}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return fmt.Errorf("checkpoint counts: %w", err)
	}
	p.logger.Debug("counts checkpointed", zap.String("path", path), zap.Int("localities", len(counts)))
	return nil
}

// LoadLocalities reads locality slugs from a CSV with a "locality" column.
// When a "scrape" column is present only rows with scrape > 0 are kept.
func LoadLocalities(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied list
	if err != nil {
		return nil, fmt.Errorf("open localities file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	head, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read localities header: %w", err)
	}
	locCol, scrapeCol := -1, -1
	for i, name := range head {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "locality":
			locCol = i
		case "scrape":
			scrapeCol = i
		}
	}
	if locCol < 0 {
		return nil, fmt.Errorf("localities file %s has no locality column", path)
	}

	var out []string
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read localities line %d: %w", line, err)
		}
		if locCol >= len(row) {
			continue
		}
		loc := strings.TrimSpace(row[locCol])
		if loc == "" {
			continue
		}
		if scrapeCol >= 0 {
			if scrapeCol >= len(row) {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[scrapeCol]), 64)
			if err != nil || v <= 0 {
				continue
			}
		}
		out = append(out, loc)
	}
	return out, nil
}
