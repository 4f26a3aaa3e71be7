// Package sinks provides Sink implementations for the progress reporter.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/pagelift/monetizer/internal/progress"
)

// LogSink emits structured logs for run snapshots. Useful in development or
// when no metrics backend is wired.
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

// Consume logs the snapshot with structured fields.
func (s *LogSink) Consume(_ context.Context, snap progress.Snapshot) error {
	s.logger.Info("pipeline progress",
		zap.String("run_id", snap.RunID),
		zap.Int("total", snap.Total),
		zap.Int("completed", snap.Completed),
		zap.Int("published", snap.Published),
		zap.Int("found", snap.Found),
		zap.Int("monetized", snap.Monetized),
		zap.Int("failed", snap.Failed),
		zap.Bool("done", snap.Done),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
