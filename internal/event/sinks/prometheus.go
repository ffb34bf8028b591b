package sinks

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/immotrace/contact-pipeline/internal/event"
)

var (
	promOnce sync.Once

	contactsCreated *prometheus.CounterVec
	contactsMerged  *prometheus.CounterVec
	fuzzyFlagged    prometheus.Counter
	confidenceDelta prometheus.Histogram
)

func initPromMetrics() {
	promOnce.Do(func() {
		contactsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_contacts_created_total",
			Help: "Contacts created, by contact type.",
		}, []string{"type"})
		contactsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_contacts_merged_total",
			Help: "Merges into existing contacts, by contact type.",
		}, []string{"type"})
		fuzzyFlagged = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_contacts_fuzzy_flagged_total",
			Help: "Contacts created with a possible-duplicate flag.",
		})
		confidenceDelta = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_contact_confidence_delta",
			Help:    "Confidence movement per merge.",
			Buckets: prometheus.LinearBuckets(-0.5, 0.05, 21),
		})
	})
}

// PromSink records discovery outcomes as Prometheus metrics.
type PromSink struct{}

// NewPromSink registers the discovery metrics and returns a sink.
func NewPromSink() *PromSink {
	initPromMetrics()
	return &PromSink{}
}

// Consume updates counters for every event in the batch.
func (s *PromSink) Consume(_ context.Context, batch []event.Discovery) error {
	for _, evt := range batch {
		if evt.IsNew {
			contactsCreated.WithLabelValues(string(evt.ContactType)).Inc()
		} else {
			contactsMerged.WithLabelValues(string(evt.ContactType)).Inc()
		}
		if evt.FuzzyFlagged {
			fuzzyFlagged.Inc()
		}
		confidenceDelta.Observe(evt.ConfidenceDelta)
	}
	return nil
}

// Close implements event.Sink.
func (s *PromSink) Close(context.Context) error { return nil }
