// Package sinks contains the built-in consumers wired into the event hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/event"
)

// LogSink writes discovery events to the structured log. Useful in
// development and as a last-resort audit trail in production.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink on top of the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("discovery")}
}

// Consume logs every event in the batch at info level.
func (s *LogSink) Consume(_ context.Context, batch []event.Discovery) error {
	for _, evt := range batch {
		s.logger.Info("contact discovery",
			zap.String("contact_id", evt.ContactID),
			zap.String("type", string(evt.ContactType)),
			zap.String("value", evt.NormalizedValue),
			zap.String("source", evt.SourceName),
			zap.Bool("is_new", evt.IsNew),
			zap.Float64("confidence", evt.Confidence),
			zap.Float64("confidence_delta", evt.ConfidenceDelta),
			zap.Bool("fuzzy_flagged", evt.FuzzyFlagged),
			zap.Time("ts", evt.TS),
		)
	}
	return nil
}

// Close implements event.Sink; there is nothing to release.
func (s *LogSink) Close(context.Context) error { return nil }
