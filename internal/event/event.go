// Package event defines the discovery events emitted by the merge stage and
// the hub that fans them out to sinks.
package event

import (
	"errors"
	"time"

	"github.com/immotrace/contact-pipeline/internal/contact"
)

// Discovery captures one successful merge: a contact was created or
// re-scored. Downstream notification channels filter by confidence before
// alerting; the pipeline only emits.
type Discovery struct {
	// ContactID is the stable identity of the affected contact.
	ContactID string `json:"contact_id"`
	// ContactType and NormalizedValue identify the dedup key.
	ContactType     contact.ContactType `json:"contact_type"`
	NormalizedValue string              `json:"normalized_value"`
	// SourceName is the source whose candidate triggered the merge.
	SourceName string `json:"source_name"`
	// IsNew distinguishes creation from re-scoring merges.
	IsNew bool `json:"is_new"`
	// ConfidenceDelta is the score movement caused by the merge.
	ConfidenceDelta float64 `json:"confidence_delta"`
	// Confidence is the contact's score after the merge.
	Confidence float64 `json:"confidence"`
	// FuzzyFlagged marks contacts surfaced for duplicate review.
	FuzzyFlagged bool `json:"fuzzy_flagged"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
}

// Validate performs coarse validation on Discovery payloads.
func (d Discovery) Validate() error {
	if d.ContactID == "" {
		return errors.New("contact id is required")
	}
	if d.ContactType == "" {
		return errors.New("contact type is required")
	}
	if d.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
