// Package crawl drives localities through their result pages.
//
// One locality runs as a small state machine: acquire a session, then fetch
// pages in order, rotating the session every RotateEvery pages, persisting
// each accepted page and quarantining each failed one, until a page reaches
// back past the cutoff date or the page cap is hit. The session is released
// on every exit path.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/fetcher"
	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
	"github.com/JakeFAU/sold-listings-crawler/internal/notify"
	"github.com/JakeFAU/sold-listings-crawler/internal/progress"
	"github.com/JakeFAU/sold-listings-crawler/internal/session"
)

// StopReason says why a locality's crawl ended.
type StopReason string

// Stop reasons.
const (
	StopCutoff   StopReason = "cutoff"
	StopPageCap  StopReason = "page_cap"
	StopCanceled StopReason = "canceled"
)

// Sessions acquires, rotates, and releases browser sessions.
// session.Manager satisfies it.
type Sessions interface {
	Acquire(ctx context.Context, headless bool) (*session.Handle, error)
	Rotate(ctx context.Context, current *session.Handle) (*session.Handle, error)
	Release(h *session.Handle)
}

// PageFetcher loads one page through a session.
type PageFetcher interface {
	Fetch(ctx context.Context, unit listing.PageUnit, r fetcher.Renderer) (fetcher.Result, error)
}

// PageWriter persists an accepted page.
type PageWriter interface {
	WritePage(ctx context.Context, unit listing.PageUnit, records []listing.Record) (string, error)
}

// Quarantiner records a page that could not be fetched.
type Quarantiner interface {
	Quarantine(unit listing.PageUnit, cause error) (string, error)
}

// Config holds the stop condition and rotation schedule.
type Config struct {
	// Cutoff is the earliest acceptable date_sold. A page whose earliest
	// record is strictly before it ends the locality.
	Cutoff    time.Time
	StartPage int
	// PageCap is the highest page number fetched.
	PageCap int
	// MaxPages limits pages per locality; zero means up to PageCap.
	MaxPages    int
	RotateEvery int
	Headless    bool
}

// Validate checks the crawl settings.
func (c Config) Validate() error {
	if c.Cutoff.IsZero() {
		return errors.New("crawl.cutoff_date must be set")
	}
	if c.StartPage <= 0 {
		return errors.New("crawl.start_page must be > 0")
	}
	if c.PageCap < c.StartPage {
		return errors.New("crawl.page_cap must be >= crawl.start_page")
	}
	if c.MaxPages < 0 {
		return errors.New("crawl.max_pages must be >= 0")
	}
	if c.RotateEvery <= 0 {
		return errors.New("crawl.rotate_every must be > 0")
	}
	return nil
}

// Summary reports one locality's crawl.
type Summary struct {
	Locality    string
	Day         string
	Pages       int
	Complete    int
	Incomplete  int
	Quarantined int
	Records     int
	Defects     int
	Rotations   int
	// Earliest is the earliest date_sold seen; zero when no page had a date.
	Earliest   time.Time
	LastPage   int
	StopReason StopReason
	Dur        time.Duration
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Sessions   Sessions
	Fetcher    PageFetcher
	Pages      PageWriter
	Quarantine Quarantiner
	Notifier   notify.Notifier
	Emitter    progress.Emitter
	Logger     *zap.Logger
	Now        func() time.Time
}

// Orchestrator crawls localities.
type Orchestrator struct {
	cfg        Config
	sessions   Sessions
	fetcher    PageFetcher
	pages      PageWriter
	quarantine Quarantiner
	notifier   notify.Notifier
	emitter    progress.Emitter
	logger     *zap.Logger
	now        func() time.Time
	runID      [16]byte
}

// New validates cfg and wires deps for the run identified by runID.
func New(cfg Config, deps Deps, runID [16]byte) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("sessions are required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Pages == nil:
		return nil, errors.New("page writer is required")
	case deps.Quarantine == nil:
		return nil, errors.New("quarantine is required")
	case deps.Notifier == nil:
		return nil, errors.New("notifier is required")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		cfg:        cfg,
		sessions:   deps.Sessions,
		fetcher:    deps.Fetcher,
		pages:      deps.Pages,
		quarantine: deps.Quarantine,
		notifier:   deps.Notifier,
		emitter:    deps.Emitter,
		logger:     deps.Logger,
		now:        deps.Now,
		runID:      runID,
	}, nil
}

// CrawlLocality crawls one locality for day. The error is non-nil only when a
// session could not be acquired or rotated; page failures are quarantined and
// the crawl continues.
func (o *Orchestrator) CrawlLocality(ctx context.Context, locality, day string) (Summary, error) {
	sum := Summary{Locality: locality, Day: day}
	start := o.now()
	log := o.logger.With(zap.String("locality", locality), zap.String("day", day))

	if err := (listing.PageUnit{Locality: locality, Page: o.cfg.StartPage, Day: day}).Validate(); err != nil {
		o.emitLocality(progress.StageLocalityError, locality, start, err.Error())
		return sum, err
	}

	handle, err := o.sessions.Acquire(ctx, o.cfg.Headless)
	if err != nil {
		o.emitLocality(progress.StageLocalityError, locality, start, err.Error())
		return sum, fmt.Errorf("acquire session for %s: %w", locality, err)
	}
	defer func() { o.sessions.Release(handle) }()
	o.emitLocality(progress.StageLocalityStart, locality, start, "")
	log.Info("locality started", zap.Uint64("session", handle.ID()))

	onSession := 0
	for page := o.cfg.StartPage; ; page++ {
		if ctx.Err() != nil {
			sum.StopReason = StopCanceled
			break
		}
		if onSession >= o.cfg.RotateEvery {
			next, err := o.sessions.Rotate(ctx, handle)
			handle = next
			if err != nil {
				o.emitLocality(progress.StageLocalityError, locality, start, err.Error())
				return o.finish(sum, start), fmt.Errorf("rotate session for %s: %w", locality, err)
			}
			onSession = 0
			sum.Rotations++
			o.emitLocality(progress.StageSessionRotated, locality, start, fmt.Sprintf("generation %d before page %d", handle.Generation(), page))
		}

		unit := listing.PageUnit{Locality: locality, Page: page, Day: day}
		stop, canceled := o.crawlPage(ctx, unit, handle, &sum, log)
		if canceled {
			sum.StopReason = StopCanceled
			break
		}
		onSession++
		sum.Pages++
		sum.LastPage = page
		if stop {
			sum.StopReason = StopCutoff
			break
		}
		if page >= o.cfg.PageCap || (o.cfg.MaxPages > 0 && sum.Pages >= o.cfg.MaxPages) {
			sum.StopReason = StopPageCap
			break
		}
	}

	sum = o.finish(sum, start)
	if !sum.Earliest.IsZero() {
		o.notifier.Notify(fmt.Sprintf("%s: scraped to %s", locality, sum.Earliest.Format(listing.DateLayout)))
	}
	o.emitter.Emit(progress.Event{
		RunID:    o.runID,
		TS:       o.now(),
		Stage:    progress.StageLocalityDone,
		Locality: locality,
		Records:  sum.Records,
		Dur:      sum.Dur,
		Note:     string(sum.StopReason),
	})
	log.Info("locality finished",
		zap.String("stop_reason", string(sum.StopReason)),
		zap.Int("pages", sum.Pages),
		zap.Int("records", sum.Records),
		zap.Int("quarantined", sum.Quarantined),
		zap.Int("rotations", sum.Rotations),
	)
	return sum, nil
}

// crawlPage fetches and persists one unit. stop reports the cutoff was
// crossed; canceled reports ctx ended before the unit was attempted.
func (o *Orchestrator) crawlPage(
	ctx context.Context,
	unit listing.PageUnit,
	handle *session.Handle,
	sum *Summary,
	log *zap.Logger,
) (stop, canceled bool) {
	res, err := o.fetcher.Fetch(ctx, unit, handle)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("page abandoned on cancel", zap.Int("page", unit.Page), zap.Error(err))
			return false, true
		}
		o.quarantineUnit(unit, err, sum, log)
		return false, false
	}

	// The page is already fetched; finish writing it even if ctx ends now.
	if _, err := o.pages.WritePage(context.WithoutCancel(ctx), unit, res.Records); err != nil {
		o.quarantineUnit(unit, err, sum, log)
		return false, false
	}
	o.notifier.Notify(fmt.Sprintf("%s: page %d - %d listings", unit.Locality, unit.Page, len(res.Records)))

	for attempt := 2; attempt <= res.Attempts; attempt++ {
		o.emitPage(progress.StagePageRetry, unit, attempt, res)
	}
	for i := 0; i < res.Defects; i++ {
		o.emitPage(progress.StageRecordDefect, unit, res.Attempts, res)
	}
	o.emitPage(progress.StagePageDone, unit, res.Attempts, res)

	sum.Records += len(res.Records)
	sum.Defects += res.Defects
	if res.Status == fetcher.StatusComplete {
		sum.Complete++
	} else {
		sum.Incomplete++
	}

	earliest, ok := listing.EarliestDateSold(res.Records)
	if !ok {
		log.Warn("page has no sold dates", zap.Int("page", unit.Page), zap.Int("records", len(res.Records)))
		return false, false
	}
	if sum.Earliest.IsZero() || earliest.Before(sum.Earliest) {
		sum.Earliest = earliest
	}
	return earliest.Before(o.cfg.Cutoff), false
}

func (o *Orchestrator) quarantineUnit(unit listing.PageUnit, cause error, sum *Summary, log *zap.Logger) {
	sum.Quarantined++
	if _, err := o.quarantine.Quarantine(unit, cause); err != nil {
		log.Error("quarantine write failed", zap.Int("page", unit.Page), zap.Error(err))
	}
	o.emitter.Emit(progress.Event{
		RunID:    o.runID,
		TS:       o.now(),
		Stage:    progress.StagePageQuarantined,
		Locality: unit.Locality,
		Page:     unit.Page,
		Note:     cause.Error(),
	})
}

func (o *Orchestrator) finish(sum Summary, start time.Time) Summary {
	sum.Dur = o.now().Sub(start)
	if sum.Dur < 0 {
		sum.Dur = 0
	}
	return sum
}

func (o *Orchestrator) emitLocality(stage progress.Stage, locality string, start time.Time, note string) {
	dur := o.now().Sub(start)
	if dur < 0 {
		dur = 0
	}
	o.emitter.Emit(progress.Event{
		RunID:    o.runID,
		TS:       o.now(),
		Stage:    stage,
		Locality: locality,
		Dur:      dur,
		Note:     note,
	})
}

func (o *Orchestrator) emitPage(stage progress.Stage, unit listing.PageUnit, attempt int, res fetcher.Result) {
	o.emitter.Emit(progress.Event{
		RunID:    o.runID,
		TS:       o.now(),
		Stage:    stage,
		Locality: unit.Locality,
		Page:     unit.Page,
		Attempt:  attempt,
		Cards:    res.Cards,
		Records:  len(res.Records),
		Complete: res.Status == fetcher.StatusComplete,
		Dur:      res.Dur,
	})
}
