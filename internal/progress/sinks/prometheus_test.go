package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/sold-listings-crawler/internal/progress"
)

func TestPrometheusSinkRecordsCrawlMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageLocalityStart, Locality: "manly-nsw-2095"},
		{RunID: runID, TS: now, Stage: progress.StageLocalityStart, Locality: "manly-nsw-2095"},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Locality: "manly-nsw-2095", Page: 1, Cards: 20, Records: 20, Complete: true, Dur: 3 * time.Second},
		{RunID: runID, TS: now, Stage: progress.StagePageRetry, Locality: "manly-nsw-2095", Page: 2, Attempt: 2},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Locality: "manly-nsw-2095", Page: 2, Cards: 17, Records: 17},
		{RunID: runID, TS: now, Stage: progress.StagePageQuarantined, Locality: "manly-nsw-2095", Page: 3},
		{RunID: runID, TS: now, Stage: progress.StageSessionRotated, Locality: "manly-nsw-2095"},
		{RunID: runID, TS: now, Stage: progress.StageNotice, Note: "retrying"},
		{RunID: runID, TS: now, Stage: progress.StageLocalityDone, Locality: "manly-nsw-2095", Dur: time.Minute},
		{RunID: runID, TS: now, Stage: progress.StageRunDone},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.localitiesRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.localitiesCompleted.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("complete")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("incomplete")), 1e-9)
	require.InDelta(t, 37.0, testutil.ToFloat64(sink.records), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.pageRetries), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.quarantined), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.rotations), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.notices), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.pageDuration, "soldcrawler_page_duration_seconds"))
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StagePageDone, Locality: "manly-nsw-2095", Page: 4, Cards: 20, Records: 20, Complete: true},
		{RunID: runID, TS: time.Now(), Stage: progress.StagePageQuarantined, Locality: "manly-nsw-2095", Page: 5},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, int64(4), entries[0].ContextMap()["page"])
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "manly-nsw-2095", entries[1].ContextMap()["locality"])
}
