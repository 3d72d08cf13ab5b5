package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/artifact"
	"github.com/JakeFAU/sold-listings-crawler/internal/dispatcher"
	"github.com/JakeFAU/sold-listings-crawler/internal/progress"
	"github.com/JakeFAU/sold-listings-crawler/internal/queue"
	"github.com/JakeFAU/sold-listings-crawler/internal/queue/memory"
)

// RunStore guards a day's artifacts for the length of a run.
// artifact.Store satisfies it.
type RunStore interface {
	LockDay(day string) (*artifact.RunLock, error)
	ClearComplete(day string) error
	MarkComplete(day string, at time.Time) error
}

// RunOptions tunes a multi-locality run.
type RunOptions struct {
	Concurrency int
	// OnLocality is called after each locality finishes, from the worker
	// goroutine that crawled it.
	OnLocality func(LocalityResult)
}

// LocalityResult pairs a locality's summary with its fatal error, if any.
type LocalityResult struct {
	Summary Summary
	Err     error
}

// Report is the outcome of Run.
type Report struct {
	Day       string
	Results   []LocalityResult
	Skipped   []string
	Completed bool
	Dur       time.Duration
}

// Failed lists localities whose crawl ended with an error.
func (r Report) Failed() []LocalityResult {
	var out []LocalityResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Run crawls localities for day under the day's crawl lock. Localities are
// independent: a failed one is recorded and the run moves on. The completion
// marker is written only when every locality was attempted and ctx is live.
func (o *Orchestrator) Run(ctx context.Context, store RunStore, day string, localities []string, opts RunOptions) (Report, error) {
	if store == nil {
		return Report{}, errors.New("run store is required")
	}
	if len(localities) == 0 {
		return Report{}, errors.New("no localities to crawl")
	}
	lock, err := store.LockDay(day)
	if err != nil {
		return Report{}, fmt.Errorf("lock day %s: %w", day, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			o.logger.Warn("release crawl lock failed", zap.Error(err))
		}
	}()
	if err := store.ClearComplete(day); err != nil {
		return Report{}, err
	}

	start := o.now()
	o.emitter.Emit(progress.Event{RunID: o.runID, TS: start, Stage: progress.StageRunStart, Note: day})
	o.notifier.Notify(fmt.Sprintf("scraping %d localities for %s, pages %d-%d", len(localities), day, o.cfg.StartPage, o.cfg.PageCap))
	o.logger.Info("run started", zap.String("day", day), zap.Int("localities", len(localities)))

	results := make([]*LocalityResult, len(localities))
	q := memory.NewQueue(len(localities))
	var callbackMu sync.Mutex
	pool, err := dispatcher.New(q, opts.Concurrency, func(ctx context.Context, item queue.Item) {
		o.notifier.Notify(fmt.Sprintf("%d of %d - %s", item.Index+1, len(localities), item.Locality))
		sum, err := o.CrawlLocality(ctx, item.Locality, day)
		res := LocalityResult{Summary: sum, Err: err}
		if err != nil {
			o.logger.Error("locality failed", zap.String("locality", item.Locality), zap.Error(err))
		}
		results[item.Index] = &res
		if opts.OnLocality != nil {
			callbackMu.Lock()
			opts.OnLocality(res)
			callbackMu.Unlock()
		}
	}, o.logger.Named("dispatcher"))
	if err != nil {
		return Report{}, err
	}
	// The queue holds every locality, so enqueueing never blocks.
	for i, loc := range localities {
		if err := pool.Enqueue(context.WithoutCancel(ctx), queue.Item{Index: i, Locality: loc}); err != nil {
			return Report{}, err
		}
	}
	pool.Close()
	pool.Run(ctx)

	report := Report{Day: day}
	for i, res := range results {
		if res == nil {
			report.Skipped = append(report.Skipped, localities[i])
			continue
		}
		report.Results = append(report.Results, *res)
	}
	report.Completed = len(report.Skipped) == 0 && ctx.Err() == nil && !anyCanceled(report.Results)
	if report.Completed {
		if err := store.MarkComplete(day, o.now()); err != nil {
			return report, fmt.Errorf("mark day %s complete: %w", day, err)
		}
	}
	report.Dur = o.now().Sub(start)
	o.emitter.Emit(progress.Event{RunID: o.runID, TS: o.now(), Stage: progress.StageRunDone, Dur: nonNegative(report.Dur), Note: day})
	o.logger.Info("run finished",
		zap.String("day", day),
		zap.Int("crawled", len(report.Results)),
		zap.Int("failed", len(report.Failed())),
		zap.Int("skipped", len(report.Skipped)),
		zap.Bool("completed", report.Completed),
	)
	return report, nil
}

func anyCanceled(results []LocalityResult) bool {
	for _, r := range results {
		if r.Summary.StopReason == StopCanceled {
			return true
		}
	}
	return false
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
