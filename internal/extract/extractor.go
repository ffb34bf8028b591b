// Package extract implements the contact extraction strategies.
//
// Extractors are pure functions of their input listing: no shared mutable
// state, no panics escaping to the caller. An extractor that cannot make
// sense of its input returns no candidates; internal failures are recovered,
// counted, and logged, never fatal.
package extract

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/metrics"
)

// Extractor scans one listing and emits zero or more candidates.
type Extractor interface {
	Kind() contact.ExtractorKind
	Extract(ctx context.Context, listing contact.RawListing) []contact.Candidate
}

// Set is the closed set of extractor implementations, selected via static
// registration at construction time.
type Set struct {
	extractors []Extractor
	logger     *zap.Logger
}

// NewSet registers the full extractor set. The OCR extractor is only wired
// when enabled and both collaborators are present.
func NewSet(
	cfg config.ExtractConfig,
	ocrClient contact.OCRClient,
	images contact.ImageStore,
	logger *zap.Logger,
) *Set {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	email := NewEmailExtractor()
	phone := NewPhoneExtractor()
	extractors := []Extractor{
		email,
		phone,
		NewFormExtractor(),
	}
	if cfg.OCREnabled && ocrClient != nil && images != nil {
		extractors = append(extractors, NewOCRExtractor(ocrClient, images, email, phone, cfg.OCRPenalty, logger))
	}
	return &Set{extractors: extractors, logger: logger}
}

// ExtractAll runs every registered extractor concurrently against the listing
// and pools their candidates in registration order. A panicking extractor is
// recovered and contributes nothing.
func (s *Set) ExtractAll(ctx context.Context, listing contact.RawListing) []contact.Candidate {
	results := make([][]contact.Candidate, len(s.extractors))
	var wg sync.WaitGroup
	for i, ex := range s.extractors {
		wg.Add(1)
		go func(idx int, ex Extractor) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.ObserveExtractorFailure(string(ex.Kind()))
					s.logger.Warn("extractor recovered from panic",
						zap.String("extractor", string(ex.Kind())),
						zap.String("listing_id", listing.ID),
						zap.Any("panic", r),
					)
				}
			}()
			results[idx] = ex.Extract(ctx, listing)
		}(i, ex)
	}
	wg.Wait()

	var pooled []contact.Candidate
	for _, batch := range results {
		for _, cand := range batch {
			metrics.ObserveCandidate(string(cand.Extractor))
			pooled = append(pooled, cand)
		}
	}
	return pooled
}
