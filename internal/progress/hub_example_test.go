package progress

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var exampleRun = UUIDToBytes(uuid.MustParse("0190f5a2-7c1e-7000-8000-000000000001"))

// stageTally counts events per stage.
type stageTally map[Stage]int

func (t stageTally) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		t[evt.Stage]++
	}
	return nil
}

func (stageTally) Close(context.Context) error { return nil }

// ExampleHub_Emit follows one locality through the hub: two pages land, a
// third is quarantined, and Close flushes everything still buffered.
func ExampleHub_Emit() {
	tally := stageTally{}
	hub := NewHub(Config{MaxBatchEvents: 10, MaxBatchWait: time.Minute}, tally)

	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StageLocalityStart, Locality: "manly-nsw-2095"})
	for page := 1; page <= 2; page++ {
		hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StagePageDone, Locality: "manly-nsw-2095", Page: page, Cards: 20, Records: 20, Complete: true})
	}
	hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StagePageQuarantined, Locality: "manly-nsw-2095", Page: 3})
	hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StagePageDone, Locality: "manly-nsw-2095"}) // no page: dropped
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	stages := make([]string, 0, len(tally))
	for s := range tally {
		stages = append(stages, string(s))
	}
	sort.Strings(stages)
	for _, s := range stages {
		fmt.Printf("%s=%d\n", s, tally[Stage(s)])
	}
	// Output:
	// LOCALITY_START=1
	// PAGE_DONE=2
	// PAGE_QUARANTINED=1
}

// ExampleSink totals the records extracted across a run with an inline Sink.
func ExampleSink() {
	var records int
	sum := recordsSink(func(batch []Event) {
		for _, evt := range batch {
			if evt.Stage == StagePageDone {
				records += evt.Records
			}
		}
	})
	hub := NewHub(Config{MaxBatchEvents: 1}, sum)

	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StagePageDone, Locality: "bondi-nsw-2026", Page: 1, Attempt: 1, Cards: 20, Records: 20, Complete: true})
	hub.Emit(Event{RunID: exampleRun, TS: ts, Stage: StagePageDone, Locality: "bondi-nsw-2026", Page: 2, Attempt: 3, Cards: 17, Records: 17})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("records extracted: %d\n", records)
	// Output:
	// records extracted: 37
}

type recordsSink func([]Event)

func (f recordsSink) Consume(_ context.Context, batch []Event) error {
	f(batch)
	return nil
}

func (recordsSink) Close(context.Context) error { return nil }
