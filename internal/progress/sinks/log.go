package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch. Page-scoped fields are only attached
// when the event carries a page.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Locality != "" {
			fields = append(fields, zap.String("locality", evt.Locality))
		}
		if evt.Page > 0 {
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.Int("attempt", evt.Attempt),
				zap.Int("cards", evt.Cards),
				zap.Int("records", evt.Records),
				zap.Bool("complete", evt.Complete),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageLocalityError || evt.Stage == progress.StagePageQuarantined {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
