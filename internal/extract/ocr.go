package extract

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/metrics"
)

// OCRExtractor runs recognized image text back through the email and phone
// extractors with a confidence penalty. OCR unavailability degrades to "no
// candidates for this listing"; it is never a pipeline error.
type OCRExtractor struct {
	client  contact.OCRClient
	images  contact.ImageStore
	email   *EmailExtractor
	phone   *PhoneExtractor
	penalty float64
	logger  *zap.Logger
}

// NewOCRExtractor constructs an OCRExtractor.
func NewOCRExtractor(
	client contact.OCRClient,
	images contact.ImageStore,
	email *EmailExtractor,
	phone *PhoneExtractor,
	penalty float64,
	logger *zap.Logger,
) *OCRExtractor {
	if penalty <= 0 || penalty > 1 {
		penalty = 0.7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OCRExtractor{
		client:  client,
		images:  images,
		email:   email,
		phone:   phone,
		penalty: penalty,
		logger:  logger,
	}
}

// Kind implements Extractor.
func (o *OCRExtractor) Kind() contact.ExtractorKind {
	return contact.ExtractorOCR
}

// Extract resolves each image ref, recognizes its text, and re-extracts
// emails and phones from the result.
func (o *OCRExtractor) Extract(ctx context.Context, listing contact.RawListing) []contact.Candidate {
	if len(listing.ImageRefs) == 0 {
		return nil
	}

	var out []contact.Candidate
	seen := make(map[contact.Key]struct{})
	for _, ref := range listing.ImageRefs {
		if ctx.Err() != nil {
			return out
		}
		text, ok := o.recognize(ctx, listing, ref)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}

		synthetic := contact.RawListing{
			ID:           listing.ID,
			SourceName:   listing.SourceName,
			BodyText:     text,
			DiscoveredAt: listing.DiscoveredAt,
		}
		for _, cand := range append(o.email.Extract(ctx, synthetic), o.phone.Extract(ctx, synthetic)...) {
			if _, dup := seen[cand.Key()]; dup {
				continue
			}
			seen[cand.Key()] = struct{}{}
			cand.Extractor = contact.ExtractorOCR
			cand.Confidence *= o.penalty
			out = append(out, cand)
		}
	}
	return out
}

func (o *OCRExtractor) recognize(ctx context.Context, listing contact.RawListing, ref string) (string, bool) {
	image, err := o.images.GetImage(ctx, ref)
	if err != nil {
		metrics.ObserveExtractorFailure(string(contact.ExtractorOCR))
		o.logger.Debug("image fetch failed",
			zap.String("listing_id", listing.ID),
			zap.String("image_ref", ref),
			zap.Error(err),
		)
		return "", false
	}
	text, err := o.client.Recognize(ctx, image)
	if err != nil {
		metrics.ObserveExtractorFailure(string(contact.ExtractorOCR))
		o.logger.Debug("ocr failed",
			zap.String("listing_id", listing.ID),
			zap.String("image_ref", ref),
			zap.Error(err),
		)
		return "", false
	}
	return text, true
}
