// Package notify delivers operator notifications. Callers hand a message to a
// Notifier; the message travels as a NOTICE progress event through the hub and
// is fanned out by Sink to every configured destination. Destination failures
// are logged and never reach the crawl.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/progress"
)

// Notifier is the notification sink consumed by the crawl.
type Notifier interface {
	Notify(message string)
}

// Destination is one place a notice can be sent.
type Destination interface {
	Name() string
	Send(ctx context.Context, message string) error
	Close() error
}

// Config enumerates the recognized destinations. It is required at
// construction; nothing is resolved from ambient state at send time.
type Config struct {
	Log      bool
	Telegram TelegramConfig
	PubSub   PubSubConfig
}

// PubSubConfig selects the topic notices are published to.
type PubSubConfig struct {
	Enabled   bool
	ProjectID string
	Topic     string
}

// Validate reports the first unusable destination setting.
func (c Config) Validate() error {
	if c.PubSub.Enabled {
		if c.PubSub.ProjectID == "" {
			return errors.New("notify.pubsub.project_id must be set when pubsub is enabled")
		}
		if c.PubSub.Topic == "" {
			return errors.New("notify.pubsub.topic must be set when pubsub is enabled")
		}
	}
	return nil
}

// EventNotifier turns messages into NOTICE events on an emitter.
type EventNotifier struct {
	emitter progress.Emitter
	runID   [16]byte
	now     func() time.Time
}

// NewEventNotifier binds notices to the given run.
func NewEventNotifier(emitter progress.Emitter, runID [16]byte, now func() time.Time) *EventNotifier {
	if emitter == nil {
		emitter = progress.Discard
	}
	if now == nil {
		now = time.Now
	}
	return &EventNotifier{emitter: emitter, runID: runID, now: now}
}

// Notify emits message without blocking.
func (n *EventNotifier) Notify(message string) {
	if message == "" {
		return
	}
	n.emitter.Emit(progress.Event{
		RunID: n.runID,
		TS:    n.now(),
		Stage: progress.StageNotice,
		Note:  message,
	})
}

// Sink is a progress.Sink that forwards NOTICE events to destinations.
type Sink struct {
	destinations []Destination
	logger       *zap.Logger
}

// NewSink builds the destinations named by cfg. extra appends destinations
// constructed elsewhere, such as a Pub/Sub publisher that needs a context to dial.
func NewSink(cfg Config, logger *zap.Logger, extra ...Destination) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{logger: logger}
	if cfg.Log {
		s.destinations = append(s.destinations, NewLogDestination(logger))
	}
	if cfg.Telegram.Enabled {
		tg, err := NewTelegram(cfg.Telegram, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("build telegram destination: %w", err)
		}
		s.destinations = append(s.destinations, tg)
	}
	for _, d := range extra {
		if d != nil {
			s.destinations = append(s.destinations, d)
		}
	}
	return s, nil
}

// Destinations lists the active destination names.
func (s *Sink) Destinations() []string {
	names := make([]string, 0, len(s.destinations))
	for _, d := range s.destinations {
		names = append(names, d.Name())
	}
	return names
}

// Consume sends every NOTICE in batch to each destination.
func (s *Sink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Stage != progress.StageNotice {
			continue
		}
		for _, d := range s.destinations {
			if err := d.Send(ctx, evt.Note); err != nil {
				s.logger.Warn("notification failed",
					zap.String("destination", d.Name()),
					zap.String("message", evt.Note),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// Close releases every destination.
func (s *Sink) Close(context.Context) error {
	var errs []error
	for _, d := range s.destinations {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogDestination writes notices to the structured log.
type LogDestination struct {
	logger *zap.Logger
}

// NewLogDestination returns a destination backed by logger.
func NewLogDestination(logger *zap.Logger) *LogDestination {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDestination{logger: logger}
}

// Name implements Destination.
func (*LogDestination) Name() string { return "log" }

// Send implements Destination.
func (d *LogDestination) Send(_ context.Context, message string) error {
	d.logger.Info("notice", zap.String("message", message))
	return nil
}

// Close implements Destination.
func (*LogDestination) Close() error { return nil }
