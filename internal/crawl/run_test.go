package crawl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sold-listings-crawler/internal/artifact"
	"github.com/JakeFAU/sold-listings-crawler/internal/fetcher"
	"github.com/JakeFAU/sold-listings-crawler/internal/progress"
)

func TestRunMarksDayComplete(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.PageCap = 2
	h := newHarness(t, cfg, func(context.Context, int) (fetcher.Result, error) {
		return pageOn(date(2021, time.December, 1)), nil
	})

	var mu sync.Mutex
	var seen []string
	localities := []string{"manly-nsw-2095", "surry-hills-nsw-2010", "bondi-nsw-2026"}
	report, err := h.orch.Run(context.Background(), h.store, testDay, localities, RunOptions{
		Concurrency: 2,
		OnLocality: func(res LocalityResult) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, res.Summary.Locality)
		},
	})
	require.NoError(t, err)
	require.True(t, report.Completed)
	require.Len(t, report.Results, 3)
	require.Empty(t, report.Skipped)
	require.Empty(t, report.Failed())
	require.ElementsMatch(t, localities, seen)
	for i, res := range report.Results {
		require.Equal(t, localities[i], res.Summary.Locality, "results keep input order")
		require.Equal(t, StopPageCap, res.Summary.StopReason)
	}

	done, err := h.store.Completed(testDay)
	require.NoError(t, err)
	require.True(t, done)
	locked, err := h.store.DayLocked(testDay)
	require.NoError(t, err)
	require.False(t, locked, "lock released after the run")
	require.EqualValues(t, 0, h.manager.Live())

	require.Equal(t, 1, h.emitter.count(progress.StageRunStart))
	require.Equal(t, 1, h.emitter.count(progress.StageRunDone))
	require.Equal(t, 3, h.emitter.count(progress.StageLocalityDone))
	require.Contains(t, h.notifier.messages, "scraping 3 localities for 20210701, pages 1-2")
	require.Contains(t, h.notifier.messages, "2 of 3 - surry-hills-nsw-2010")
}

func TestRunRecordsFailedLocalityAndContinues(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.PageCap = 1
	h := newHarness(t, cfg, func(context.Context, int) (fetcher.Result, error) {
		return pageOn(date(2021, time.December, 1)), nil
	})

	report, err := h.orch.Run(context.Background(), h.store, testDay, []string{"Not A Slug", "manly-nsw-2095"}, RunOptions{Concurrency: 1})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	require.Len(t, report.Failed(), 1)
	require.Equal(t, "Not A Slug", report.Failed()[0].Summary.Locality)
	require.Equal(t, StopPageCap, report.Results[1].Summary.StopReason)
	require.True(t, report.Completed, "every locality was attempted")
}

func TestRunRefusesLockedDay(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), func(context.Context, int) (fetcher.Result, error) {
		return pageOn(date(2021, time.December, 1)), nil
	})
	lock, err := h.store.LockDay(testDay)
	require.NoError(t, err)
	defer func() { require.NoError(t, lock.Unlock()) }()

	_, err = h.orch.Run(context.Background(), h.store, testDay, []string{"manly-nsw-2095"}, RunOptions{})
	require.ErrorIs(t, err, artifact.ErrLocked)
	require.Empty(t, h.fetcher.pages)
}

func TestRunCanceledLeavesDayIncomplete(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, defaultConfig(), func(_ context.Context, page int) (fetcher.Result, error) {
		if page == 1 {
			cancel()
		}
		return pageOn(date(2021, time.December, 1)), nil
	})
	require.NoError(t, h.store.MarkComplete(testDay, time.Now()))

	report, err := h.orch.Run(ctx, h.store, testDay, []string{"manly-nsw-2095", "bondi-nsw-2026"}, RunOptions{Concurrency: 1})
	require.NoError(t, err)
	require.False(t, report.Completed)

	done, err := h.store.Completed(testDay)
	require.NoError(t, err)
	require.False(t, done, "a stale marker is cleared when a run starts")
}

func TestRunValidatesInputs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultConfig(), func(context.Context, int) (fetcher.Result, error) {
		return fetcher.Result{}, errors.New("unused")
	})
	_, err := h.orch.Run(context.Background(), nil, testDay, []string{"manly-nsw-2095"}, RunOptions{})
	require.Error(t, err)
	_, err = h.orch.Run(context.Background(), h.store, testDay, nil, RunOptions{})
	require.Error(t, err)
}
