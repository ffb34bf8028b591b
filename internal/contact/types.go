// Package contact defines core types shared across pipeline subsystems.
package contact

import (
	"time"
)

// ContactType classifies what kind of contact path a record represents.
type ContactType string

// Contact type values persisted in the contact store.
const (
	TypeEmail ContactType = "email"
	TypePhone ContactType = "phone"
	TypeForm  ContactType = "form"
)

// ExtractorKind identifies which extraction strategy produced a candidate.
type ExtractorKind string

// Supported extractor kinds.
const (
	ExtractorEmail ExtractorKind = "email"
	ExtractorPhone ExtractorKind = "phone"
	ExtractorForm  ExtractorKind = "form"
	ExtractorOCR   ExtractorKind = "ocr"
)

// RawListing is the immutable input unit handed to the pipeline by a source
// adapter. It is consumed once per pipeline run and never mutated.
type RawListing struct {
	ID           string    `json:"id"`
	SourceName   string    `json:"source_name"`
	BodyText     string    `json:"body_text"`
	HTMLFragment string    `json:"html_fragment,omitempty"`
	ImageRefs    []string  `json:"image_refs,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Candidate is an unconfirmed, unscored extraction result. It lives only
// inside one pipeline pass: created by an extractor, consumed by the
// validator and scorer, then merged into a Contact or rejected.
type Candidate struct {
	ListingID  string        `json:"listing_id"`
	SourceName string        `json:"source_name"`
	Extractor  ExtractorKind `json:"extractor"`
	// Type is what the extracted value is, independent of who found it;
	// OCR candidates carry TypeEmail or TypePhone.
	Type            ContactType `json:"type"`
	RawValue        string      `json:"raw_value"`
	NormalizedValue string      `json:"normalized_value"`
	// Confidence is the extractor's self-reported certainty in [0,1].
	Confidence float64 `json:"confidence"`
}

// ValidationResult captures the structural verdict for one candidate.
type ValidationResult struct {
	StructurallyValid bool    `json:"structurally_valid"`
	Penalty           float64 `json:"penalty"`
	Notes             string  `json:"notes,omitempty"`
}

// ScoredCandidate pairs a candidate with its validation outcome and final
// confidence score, ready for the merge stage.
type ScoredCandidate struct {
	Candidate  Candidate
	Validation ValidationResult
	Score      float64
}

// SourceRef records one listing/source pair that contributed to a Contact.
type SourceRef struct {
	ListingID  string `json:"listing_id"`
	SourceName string `json:"source_name"`
}

// Key is the deduplication key: type plus normalized value. It is
// deliberately source-independent.
type Key struct {
	Type            ContactType
	NormalizedValue string
}

// Contact is the durable, deduplicated output entity. The pipeline creates
// and re-scores contacts but never deletes them; retention is a storage
// policy outside this subsystem.
type Contact struct {
	ID              string      `json:"id"`
	Type            ContactType `json:"type"`
	NormalizedValue string      `json:"normalized_value"`
	DisplayValue    string      `json:"display_value"`
	// BaseScore is the best single-candidate score seen so far, without the
	// corroboration bonus. ConfidenceScore is always re-derived from it so
	// repeated merges cannot compound the bonus past its cap.
	BaseScore       float64     `json:"base_score"`
	ConfidenceScore float64     `json:"confidence_score"`
	Sources         []SourceRef `json:"sources"`
	FirstSeenAt     time.Time   `json:"first_seen_at"`
	LastSeenAt      time.Time   `json:"last_seen_at"`
	// MergeCount tracks how many candidate merges mutated this record.
	MergeCount int `json:"merge_count"`
	// PossibleDuplicateOf references another contact this record fuzzily
	// matched at creation time. Fuzzy matches are never auto-merged; they
	// are surfaced for downstream review.
	PossibleDuplicateOf string `json:"possible_duplicate_of,omitempty"`
}

// Key returns the dedup key for the contact.
func (c Contact) Key() Key {
	return Key{Type: c.Type, NormalizedValue: c.NormalizedValue}
}

// HasSource reports whether the listing/source pair already contributed.
func (c Contact) HasSource(ref SourceRef) bool {
	for _, s := range c.Sources {
		if s == ref {
			return true
		}
	}
	return false
}

// DistinctSources counts the distinct source names that contributed; this is
// the corroboration count used when re-deriving the confidence score.
func (c Contact) DistinctSources() int {
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		seen[s.SourceName] = struct{}{}
	}
	return len(seen)
}

// Key returns the dedup key for the candidate.
func (c Candidate) Key() Key {
	return Key{Type: c.Type, NormalizedValue: c.NormalizedValue}
}

// SourceRef returns the listing/source pair for the candidate.
func (c Candidate) SourceRef() SourceRef {
	return SourceRef{ListingID: c.ListingID, SourceName: c.SourceName}
}
