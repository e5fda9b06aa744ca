package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/posterwatch/internal/progress"
)

// LogSink emits one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Failures are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("kind", string(evt.Kind)),
			zap.Time("ts", evt.TS),
		}
		if evt.RunID != ([16]byte{}) {
			fields = append(fields, zap.Stringer("run_id", evt.RunUUID()), zap.Int("index", evt.Index))
		}
		if evt.ResourceID != "" {
			fields = append(fields, zap.String("resource_id", evt.ResourceID))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.String("site", evt.Site))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt), "progress event", fields...)
	}
	return nil
}

func levelFor(evt progress.Event) zapcore.Level {
	switch {
	case evt.Kind == progress.KindLoaderFailed:
		return zapcore.WarnLevel
	case evt.Kind == progress.KindScanResolved && evt.Status == "error":
		return zapcore.WarnLevel
	case evt.Kind == progress.KindScanTesting, evt.Kind == progress.KindLoaderStage:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
