package crawl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sold-listings-crawler/internal/artifact"
	"github.com/JakeFAU/sold-listings-crawler/internal/fetcher"
	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
	"github.com/JakeFAU/sold-listings-crawler/internal/progress"
	"github.com/JakeFAU/sold-listings-crawler/internal/quarantine"
	"github.com/JakeFAU/sold-listings-crawler/internal/session"
)

const testDay = "20210701"

type nopBrowser struct{}

func (nopBrowser) Render(context.Context, string) (string, error) { return "<html></html>", nil }
func (nopBrowser) Close() error                                   { return nil }

type countingLauncher struct {
	mu       sync.Mutex
	launches int
	err      error
}

func (l *countingLauncher) Launch(context.Context, bool) (session.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.launches++
	return nopBrowser{}, nil
}

// pageFunc scripts the fetcher per page number.
type pageFunc func(ctx context.Context, page int) (fetcher.Result, error)

type fakeFetcher struct {
	mu      sync.Mutex
	script  pageFunc
	pages   []int
	handles map[int]uint64
}

func newFakeFetcher(script pageFunc) *fakeFetcher {
	return &fakeFetcher{script: script, handles: map[int]uint64{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, unit listing.PageUnit, r fetcher.Renderer) (fetcher.Result, error) {
	f.mu.Lock()
	f.pages = append(f.pages, unit.Page)
	if h, ok := r.(*session.Handle); ok {
		f.handles[unit.Page] = h.ID()
	}
	f.mu.Unlock()
	res, err := f.script(ctx, unit.Page)
	res.Unit = unit
	return res, err
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) count(stage progress.Stage) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// pageOn returns a complete page whose records were sold on the given dates.
func pageOn(dates ...time.Time) fetcher.Result {
	res := fetcher.Result{Status: fetcher.StatusComplete, Attempts: 1, Cards: len(dates)}
	for i, d := range dates {
		res.Records = append(res.Records, listing.Record{Link: fmt.Sprintf("https://x/%d", i), DateSold: &d})
	}
	return res
}

type harness struct {
	orch     *Orchestrator
	manager  *session.Manager
	launcher *countingLauncher
	fetcher  *fakeFetcher
	store    *artifact.Store
	notifier *recordingNotifier
	emitter  *recordingEmitter
}

func newHarness(t *testing.T, cfg Config, script pageFunc) *harness {
	t.Helper()
	launcher := &countingLauncher{}
	manager, err := session.NewManager(launcher, nil)
	require.NoError(t, err)
	store, err := artifact.New(filepath.Join(t.TempDir(), "out"), nil)
	require.NoError(t, err)
	q, err := quarantine.New(store, nil)
	require.NoError(t, err)
	h := &harness{
		manager:  manager,
		launcher: launcher,
		fetcher:  newFakeFetcher(script),
		store:    store,
		notifier: &recordingNotifier{},
		emitter:  &recordingEmitter{},
	}
	h.orch, err = New(cfg, Deps{
		Sessions:   manager,
		Fetcher:    h.fetcher,
		Pages:      store,
		Quarantine: q,
		Notifier:   h.notifier,
		Emitter:    h.emitter,
	}, progress.UUIDToBytes(uuid.New()))
	require.NoError(t, err)
	return h
}

func defaultConfig() Config {
	return Config{
		Cutoff:      date(2021, time.July, 1),
		StartPage:   1,
		PageCap:     50,
		RotateEvery: 25,
		Headless:    true,
	}
}

func TestCrawlStopsAtCutoff(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), func(_ context.Context, page int) (fetcher.Result, error) {
		if page == 5 {
			return pageOn(date(2021, time.July, 3), date(2021, time.June, 30)), nil
		}
		return pageOn(date(2021, time.August, 10-page)), nil
	})

	sum, err := h.orch.CrawlLocality(context.Background(), "manly-nsw-2095", testDay)
	require.NoError(t, err)
	require.Equal(t, StopCutoff, sum.StopReason)
	require.Equal(t, []int{1, 2, 3, 4, 5}, h.fetcher.pages, "page 6 must not be fetched")
	require.Equal(t, 5, sum.Pages)
	require.Equal(t, 5, sum.LastPage)
	require.Equal(t, date(2021, time.June, 30), sum.Earliest)
	require.EqualValues(t, 0, h.manager.Live(), "session closed on stop")
	require.Equal(t, 1, h.emitter.count(progress.StageLocalityDone))
	require.Contains(t, h.notifier.messages, "manly-nsw-2095: page 1 - 1 listings")
	require.Contains(t, h.notifier.messages, "manly-nsw-2095: page 5 - 2 listings")
	require.Contains(t, h.notifier.messages, "manly-nsw-2095: scraped to 2021-06-30")
}

func TestCrawlDateOnCutoffDoesNotStop(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.PageCap = 3
	h := newHarness(t, cfg, func(context.Context, int) (fetcher.Result, error) {
		return pageOn(date(2021, time.July, 1)), nil
	})

	sum, err := h.orch.CrawlLocality(context.Background(), "manly-nsw-2095", testDay)
	require.NoError(t, err)
	require.Equal(t, StopPageCap, sum.StopReason)
	require.Equal(t, []int{1, 2, 3}, h.fetcher.pages)
}

func TestCrawlRotatesOnceBetween25And26(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.PageCap = 30
	h := newHarness(t, cfg, func(context.Context, int) (fetcher.Result, error) {
		return pageOn(date(2022, time.January, 1)), nil
	})

	sum, err := h.orch.CrawlLocality(context.Background(), "manly-nsw-2095", testDay)
	require.NoError(t, err)
	require.Equal(t, StopPageCap, sum.StopReason)
	require.Equal(t, 30, sum.Pages)
	require.Equal(t, 1, sum.Rotations)
	require.Equal(t, 2, h.launcher.launches)

	first := h.fetcher.handles[1]
	for page := 2; page <= 25; page++ {
		require.Equal(t, first, h.fetcher.handles[page], "page %d", page)
	}
	rotated := h.fetcher.handles[26]
	require.NotEqual(t, first, rotated)
	for page := 27; page <= 30; page++ {
		require.Equal(t, rotated, h.fetcher.handles[page], "page %d", page)
	}
	require.EqualValues(t, 0, h.manager.Live())
	require.Equal(t, 1, h.emitter.count(progress.StageSessionRotated))
}

func TestCrawlQuarantinesAndContinues(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.PageCap = 5
	h := newHarness(t, cfg, func(_ context.Context, page int) (fetcher.Result, error) {
		if page == 3 {
			return fetcher.Result{}, fmt.Errorf("render: %w", fetcher.ErrNoUsableRender)
		}
		return pageOn(date(2021, time.December, 1)), nil
	})

	sum, err := h.orch.CrawlLocality(context.Background(), "manly-nsw-2095", testDay)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5}, h.fetcher.pages)
	require.Equal(t, 1, sum.Quarantined)
	require.Equal(t, 4, sum.Complete)
	require.Equal(t, 1, h.emitter.count(progress.StagePageQuarantined))
	require.Contains(t, h.notifier.messages, "manly-nsw-2095: page 4 - 1 listings")
	require.NotContains(t, h.notifier.messages, "manly-nsw-2095: page 3 - 0 listings", "quarantined pages are not announced")

	for page := 1; page <= 5; page++ {
		unit := listing.PageUnit{Locality: "manly-nsw-2095", Page: page, Day: testDay}
		_, pageErr := os.Stat(h.store.PagePath(unit))
		_, markerErr := os.Stat(h.store.QuarantinePath(unit))
		require.NotEqual(t, pageErr == nil, markerErr == nil, "page %d must have exactly one artifact", page)
		if page == 3 {
			require.NoError(t, markerErr)
		}
	}
}

func TestCrawlPageWithoutDatesKeepsGoing(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.PageCap = 3
	h := newHarness(t, cfg, func(_ context.Context, page int) (fetcher.Result, error) {
		if page == 1 {
			return fetcher.Result{Status: fetcher.StatusIncomplete, Attempts: 3, Records: []listing.Record{{Link: "x"}}, Defects: 1}, nil
		}
		return pageOn(date(2021, time.June, 1)), nil
	})

	sum, err := h.orch.CrawlLocality(context.Background(), "manly-nsw-2095", testDay)
	require.NoError(t, err)
	require.Equal(t, StopCutoff, sum.StopReason)
	require.Equal(t, 2, sum.Pages)
	require.Equal(t, 1, sum.Incomplete)
	require.Equal(t, 1, sum.Defects)
	require.Equal(t, 2, h.emitter.count(progress.StagePageRetry))
	require.Equal(t, 1, h.emitter.count(progress.StageRecordDefect))
}

func TestCrawlAcquireFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), func(context.Context, int) (fetcher.Result, error) {
		return pageOn(date(2022, time.January, 1)), nil
	})
	h.launcher.err = errors.New("chrome not found")

	_, err := h.orch.CrawlLocality(context.Background(), "manly-nsw-2095", testDay)
	require.Error(t, err)
	require.Empty(t, h.fetcher.pages)
	require.Equal(t, 1, h.emitter.count(progress.StageLocalityError))
}

func TestCrawlHonorsCancellationBetweenPages(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, defaultConfig(), func(_ context.Context, page int) (fetcher.Result, error) {
		if page == 2 {
			cancel()
		}
		return pageOn(date(2022, time.January, 1)), nil
	})

	sum, err := h.orch.CrawlLocality(ctx, "manly-nsw-2095", testDay)
	require.NoError(t, err)
	require.Equal(t, StopCanceled, sum.StopReason)
	require.Equal(t, []int{1, 2}, h.fetcher.pages)
	require.FileExists(t, h.store.PagePath(listing.PageUnit{Locality: "manly-nsw-2095", Page: 2, Day: testDay}),
		"a page fetched before cancel is still written")
	require.EqualValues(t, 0, h.manager.Live())
}

func TestCrawlRejectsInvalidLocality(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), func(context.Context, int) (fetcher.Result, error) {
		return fetcher.Result{}, nil
	})
	_, err := h.orch.CrawlLocality(context.Background(), "Manly NSW", testDay)
	require.ErrorIs(t, err, listing.ErrInvalidUnit)
	require.Equal(t, 0, h.launcher.launches)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no cutoff", mutate: func(c *Config) { c.Cutoff = time.Time{} }},
		{name: "zero start", mutate: func(c *Config) { c.StartPage = 0 }},
		{name: "cap below start", mutate: func(c *Config) { c.StartPage = 10; c.PageCap = 5 }},
		{name: "negative max pages", mutate: func(c *Config) { c.MaxPages = -1 }},
		{name: "zero rotation", mutate: func(c *Config) { c.RotateEvery = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, defaultConfig().Validate())
}
