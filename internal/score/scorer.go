// Package score derives confidence scores for candidates and merged contacts.
package score

import (
	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
)

// Scorer combines extractor confidence, source reliability, and validation
// outcome into a single score in [0,1]. All weights come from configuration;
// nothing here is hard-coded to the documented defaults.
type Scorer struct {
	cfg config.ScoringConfig
}

// New constructs a Scorer.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the candidate score. Callers reject structurally invalid
// candidates before scoring; passing one anyway yields the zeroed-out value
// the penalty implies.
func (s *Scorer) Score(cand contact.Candidate, validation contact.ValidationResult, sourceReliability float64) float64 {
	raw := s.cfg.ExtractorWeight*cand.Confidence +
		s.cfg.SourceWeight*clamp01(sourceReliability) +
		s.cfg.ValidationWeight*(1-clamp01(validation.Penalty))
	return clamp01(raw)
}

// Rescore re-derives a contact's confidence after a merge. The base score is
// the best single-candidate score seen; corroboration from additional
// distinct sources adds a bounded bonus on top. Averaging would let one bad
// source cancel one good one; a plain max would ignore corroboration.
func (s *Scorer) Rescore(baseScore float64, distinctSources int) float64 {
	bonus := 0.0
	if distinctSources > 1 {
		bonus = s.cfg.CorroborationStep * float64(distinctSources-1)
		if bonus > s.cfg.CorroborationCap {
			bonus = s.cfg.CorroborationCap
		}
	}
	return clamp01(baseScore + bonus)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
