package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sold-listings-crawler/internal/progress"
)

// PrometheusSink turns crawl progress into Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter

	localitiesRunning   prometheus.Gauge
	localitiesCompleted *prometheus.CounterVec
	localityRuntime     *prometheus.HistogramVec

	pages          *prometheus.CounterVec
	pageRetries    prometheus.Counter
	quarantined    prometheus.Counter
	pageDuration   prometheus.Histogram
	records        prometheus.Counter
	recordDefects  prometheus.Counter
	rotations      prometheus.Counter
	notices        prometheus.Counter
	collatedOutput prometheus.Counter

	tracker *localityTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soldcrawler_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soldcrawler_runs_completed_total",
			Help: "Crawl runs that reached the end of their locality list.",
		}),
		localitiesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soldcrawler_localities_running",
			Help: "Localities currently being crawled.",
		}),
		localitiesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soldcrawler_localities_completed_total",
			Help: "Finished localities partitioned by result.",
		}, []string{"result"}),
		localityRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soldcrawler_locality_runtime_seconds",
			Help:    "Wall time per locality crawl.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soldcrawler_pages_total",
			Help: "Accepted page renders partitioned by completeness.",
		}, []string{"status"}),
		pageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soldcrawler_page_retries_total",
			Help: "Page attempts after the first.",
		}),
		quarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soldcrawler_pages_quarantined_total",
			Help: "Pages for which no attempt produced a usable render.",
		}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "soldcrawler_page_duration_seconds",
			Help:    "Time from first attempt to accepted render.",
			Buckets: []float64{1, 2, 5, 10, 20, 45, 90, 180},
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soldcrawler_records_total",
			Help: "Listing records extracted.",
		}),
		recordDefects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soldcrawler_record_defects_total",
			Help: "Records kept with an unparseable sold date.",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soldcrawler_session_rotations_total",
			Help: "Browser sessions replaced mid-locality.",
		}),
		notices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soldcrawler_notices_total",
			Help: "Operator notifications emitted.",
		}),
		collatedOutput: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soldcrawler_collated_records_total",
			Help: "Records written to collated day files.",
		}),
		tracker: newLocalityTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.localitiesRunning,
		s.localitiesCompleted,
		s.localityRuntime,
		s.pages,
		s.pageRetries,
		s.quarantined,
		s.pageDuration,
		s.records,
		s.recordDefects,
		s.rotations,
		s.notices,
		s.collatedOutput,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.runsCompleted.Inc()
	case progress.StageLocalityStart:
		if s.tracker.start(evt.RunID, evt.Locality) {
			s.localitiesRunning.Inc()
		}
	case progress.StageLocalityDone:
		s.finishLocality(evt, "success")
	case progress.StageLocalityError:
		s.finishLocality(evt, "error")
	case progress.StagePageDone:
		status := "complete"
		if !evt.Complete {
			status = "incomplete"
		}
		s.pages.WithLabelValues(status).Inc()
		s.records.Add(float64(evt.Records))
		if evt.Dur > 0 {
			s.pageDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StagePageRetry:
		s.pageRetries.Inc()
	case progress.StagePageQuarantined:
		s.quarantined.Inc()
	case progress.StageRecordDefect:
		s.recordDefects.Inc()
	case progress.StageSessionRotated:
		s.rotations.Inc()
	case progress.StageNotice:
		s.notices.Inc()
	case progress.StageCollateDone:
		s.collatedOutput.Add(float64(evt.Records))
	}
}

func (s *PrometheusSink) finishLocality(evt progress.Event, result string) {
	s.localitiesCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.localityRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID, evt.Locality) {
		s.localitiesRunning.Dec()
	}
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type localityKey struct {
	run      [16]byte
	locality string
}

type localityTracker struct {
	mu      sync.Mutex
	running map[localityKey]struct{}
}

func newLocalityTracker() *localityTracker {
	return &localityTracker{running: make(map[localityKey]struct{})}
}

func (t *localityTracker) start(run [16]byte, locality string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := localityKey{run: run, locality: locality}
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *localityTracker) complete(run [16]byte, locality string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := localityKey{run: run, locality: locality}
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
