package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/event"
)

// PublisherSink forwards discovery events to an external publisher, one
// message per event. Publish failures are logged and the batch continues;
// a partial publish is preferable to losing the whole batch.
type PublisherSink struct {
	pub    contact.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublisherSink builds a sink that publishes to the given topic.
func NewPublisherSink(pub contact.Publisher, topic string, logger *zap.Logger) (*PublisherSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{pub: pub, topic: topic, logger: logger}, nil
}

// Consume publishes every event in the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []event.Discovery) error {
	var failed int
	for _, evt := range batch {
		if _, err := s.pub.Publish(ctx, s.topic, evt); err != nil {
			failed++
			s.logger.Warn("discovery publish failed",
				zap.String("contact_id", evt.ContactID),
				zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("publisher sink: %d of %d events failed", failed, len(batch))
	}
	return nil
}

// Close implements event.Sink.
func (s *PublisherSink) Close(context.Context) error { return nil }
