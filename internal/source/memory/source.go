// Package memory provides a static source for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/immotrace/contact-pipeline/internal/contact"
)

// Source replays pre-loaded batches of listings in order. Once the batches
// are exhausted, FetchBatch returns empty results.
type Source struct {
	name string

	mu      sync.Mutex
	batches [][]contact.RawListing
	// errs[i] is returned instead of batch i when non-nil; the batch is
	// retried on the next call. Used to simulate transport failures.
	errs  []error
	calls int
}

// NewSource creates a source that serves the given batches.
func NewSource(name string, batches ...[]contact.RawListing) *Source {
	return &Source{name: name, batches: batches}
}

// FailNextWith queues errors to return before batches are served. The n-th
// queued error fails the n-th FetchBatch call.
func (s *Source) FailNextWith(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
}

// Name implements contact.Source.
func (s *Source) Name() string { return s.name }

// FetchBatch serves the next batch, or a queued error.
func (s *Source) FetchBatch(ctx context.Context) ([]contact.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

// Calls reports how many times FetchBatch ran. Test helper.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
