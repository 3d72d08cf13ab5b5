// Package fetcher loads one page of a locality's sold results through a
// browser session and turns the rendered cards into records.
//
// A page is Complete only when it holds exactly the expected card count.
// Anything else is retried up to the attempt ceiling and then accepted as
// Incomplete: the records are used either way. Every attempt after the first
// sends a notification.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/extract"
	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
	"github.com/JakeFAU/sold-listings-crawler/internal/notify"
)

// ErrNoUsableRender is returned when every attempt failed to render the page.
var ErrNoUsableRender = errors.New("no usable render")

// Status classifies an accepted render.
type Status int

// Render outcomes.
const (
	StatusComplete Status = iota + 1
	StatusIncomplete
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Renderer is a live browser session. session.Handle satisfies it.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Config describes the result pages and the retry ceiling.
type Config struct {
	BaseURL       string
	Query         string
	CardSelector  string
	ExpectedCards int
	MaxAttempts   int
}

// Validate checks cfg is usable.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("source.base_url must be set")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("source.base_url must be a valid url: %w", err)
	}
	if c.CardSelector == "" {
		return errors.New("source.card_selector must be set")
	}
	if c.ExpectedCards <= 0 {
		return errors.New("source.expected_cards must be > 0")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("crawl.max_attempts must be > 0")
	}
	return nil
}

// Result is the accepted outcome for one page unit.
type Result struct {
	Unit     listing.PageUnit
	Status   Status
	Records  []listing.Record
	Cards    int
	Attempts int
	// Defects counts records kept without a parseable sold date.
	Defects int
	Dur     time.Duration
}

// Fetcher runs the retry-then-accept loop for a page.
type Fetcher struct {
	cfg       Config
	extractor *extract.Extractor
	notifier  notify.Notifier
	logger    *zap.Logger
}

// New builds a Fetcher. notifier receives the per-retry messages.
func New(cfg Config, notifier notify.Notifier, logger *zap.Logger) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		extractor: extract.New(),
		notifier:  notifier,
		logger:    logger,
	}, nil
}

// PageURL builds the results URL for a locality page.
func (f *Fetcher) PageURL(locality string, page int) string {
	u := fmt.Sprintf("%s/%s/", strings.TrimRight(f.cfg.BaseURL, "/"), locality)
	query := f.cfg.Query
	if page > 0 {
		if query != "" {
			query += "&"
		}
		query += fmt.Sprintf("page=%d", page)
	}
	if query == "" {
		return u
	}
	return u + "?" + query
}

// Fetch renders unit's page through r. The returned error is non-nil only
// when no attempt produced a render, or ctx ended before the first one.
func (f *Fetcher) Fetch(ctx context.Context, unit listing.PageUnit, r Renderer) (Result, error) {
	if err := unit.Validate(); err != nil {
		return Result{}, err
	}
	target := f.PageURL(unit.Locality, unit.Page)
	log := f.logger.With(zap.String("locality", unit.Locality), zap.Int("page", unit.Page))
	start := time.Now()

	var (
		cards     *goquery.Selection
		lastCount int
		lastErr   error
		attempts  int
	)
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if attempt > 1 {
			f.notifier.Notify(fmt.Sprintf("%s: page %d - %d listings - attempt %d", unit.Locality, unit.Page, lastCount, attempt))
		}
		attempts = attempt

		found, err := f.render(ctx, r, target)
		if err != nil {
			lastErr = err
			log.Warn("page render failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		cards, lastCount = found, found.Length()
		if lastCount == f.cfg.ExpectedCards {
			break
		}
		log.Info("page incomplete", zap.Int("attempt", attempt), zap.Int("cards", lastCount))
	}

	if cards == nil {
		if lastErr == nil {
			lastErr = errors.New("no attempts made")
		}
		return Result{}, fmt.Errorf("fetch %s: %w: %w", unit, ErrNoUsableRender, lastErr)
	}

	res := Result{
		Unit:     unit,
		Status:   StatusIncomplete,
		Cards:    cards.Length(),
		Attempts: attempts,
	}
	if res.Cards == f.cfg.ExpectedCards {
		res.Status = StatusComplete
	}
	res.Records = make([]listing.Record, 0, res.Cards)
	cards.Each(func(i int, card *goquery.Selection) {
		rec, err := f.extractor.Extract(card)
		if err != nil {
			res.Defects++
			log.Warn("record defect", zap.Int("card", i), zap.String("link", rec.Link), zap.Error(err))
		}
		res.Records = append(res.Records, rec)
	})
	res.Dur = time.Since(start)
	log.Info("page fetched",
		zap.Stringer("status", res.Status),
		zap.Int("cards", res.Cards),
		zap.Int("attempts", res.Attempts),
		zap.Int("defects", res.Defects),
	)
	return res, nil
}

func (f *Fetcher) render(ctx context.Context, r Renderer, target string) (*goquery.Selection, error) {
	html, err := r.Render(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", target, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse render: %w", err)
	}
	return doc.Find(f.cfg.CardSelector), nil
}
