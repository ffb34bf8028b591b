// Package dedupe merges scored candidates into durable contacts.
package dedupe

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/metrics"
	"github.com/immotrace/contact-pipeline/internal/score"
)

// Change describes one contact mutation produced by a merge pass.
type Change struct {
	Contact contact.Contact
	IsNew   bool
	// ConfidenceDelta is the score movement caused by this merge.
	ConfidenceDelta float64
	// FuzzyFlagged marks contacts created with a possibleDuplicateOf
	// reference for downstream review.
	FuzzyFlagged bool
}

// Outcome aggregates the changes of one merge call.
type Outcome struct {
	Changes []Change
}

// Created returns the newly created contacts.
func (o Outcome) Created() []contact.Contact {
	var out []contact.Contact
	for _, ch := range o.Changes {
		if ch.IsNew {
			out = append(out, ch.Contact)
		}
	}
	return out
}

// Updated returns the contacts mutated by merging.
func (o Outcome) Updated() []contact.Contact {
	var out []contact.Contact
	for _, ch := range o.Changes {
		if !ch.IsNew {
			out = append(out, ch.Contact)
		}
	}
	return out
}

// Merger applies candidates to the contact store with create-or-merge
// semantics. Exact key matches always merge; fuzzy matches are flagged and
// kept separate. Callers serialize Merge invocations; the merge stage is the
// single writer of the contact store.
type Merger struct {
	store  contact.Store
	scorer *score.Scorer
	clock  contact.Clock
	idGen  contact.IDGenerator
	cfg    config.DedupeConfig
	logger *zap.Logger
}

// New constructs a Merger.
func New(
	store contact.Store,
	scorer *score.Scorer,
	clock contact.Clock,
	idGen contact.IDGenerator,
	cfg config.DedupeConfig,
	logger *zap.Logger,
) *Merger {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{
		store:  store,
		scorer: scorer,
		clock:  clock,
		idGen:  idGen,
		cfg:    cfg,
		logger: logger,
	}
}

// Merge applies the candidates in order against the store. It is idempotent:
// re-running the same candidates against the same store state produces no
// further change.
func (m *Merger) Merge(ctx context.Context, candidates []contact.ScoredCandidate) (Outcome, error) {
	var outcome Outcome
	for _, sc := range candidates {
		change, changed, err := m.mergeOne(ctx, sc)
		if err != nil {
			return outcome, err
		}
		if changed {
			outcome.Changes = append(outcome.Changes, change)
		}
	}
	return outcome, nil
}

func (m *Merger) mergeOne(ctx context.Context, sc contact.ScoredCandidate) (Change, bool, error) {
	cand := sc.Candidate
	existing, found, err := m.store.FindByKey(ctx, cand.Key())
	if err != nil {
		return Change{}, false, fmt.Errorf("find contact by key: %w", err)
	}
	if found {
		return m.mergeExisting(ctx, existing, sc)
	}
	return m.createNew(ctx, sc)
}

func (m *Merger) mergeExisting(ctx context.Context, existing contact.Contact, sc contact.ScoredCandidate) (Change, bool, error) {
	cand := sc.Candidate
	ref := cand.SourceRef()
	alreadySeen := existing.HasSource(ref)
	if alreadySeen && sc.Score <= existing.BaseScore {
		// Idempotent re-merge: nothing to change.
		return Change{}, false, nil
	}

	before := existing.ConfidenceScore
	if sc.Score > existing.BaseScore {
		existing.BaseScore = sc.Score
	}
	if !alreadySeen {
		existing.Sources = append(existing.Sources, ref)
	}
	existing.MergeCount++
	existing.LastSeenAt = m.clock.Now()
	existing.ConfidenceScore = m.scorer.Rescore(existing.BaseScore, existing.DistinctSources())

	updated, err := m.store.UpsertContact(ctx, existing)
	if err != nil {
		return Change{}, false, fmt.Errorf("upsert merged contact: %w", err)
	}
	m.logger.Debug("contact merged",
		zap.String("contact_id", updated.ID),
		zap.String("type", string(updated.Type)),
		zap.Float64("score", updated.ConfidenceScore),
		zap.Int("sources", len(updated.Sources)),
	)
	return Change{
		Contact:         updated,
		IsNew:           false,
		ConfidenceDelta: updated.ConfidenceScore - before,
	}, true, nil
}

func (m *Merger) createNew(ctx context.Context, sc contact.ScoredCandidate) (Change, bool, error) {
	cand := sc.Candidate
	id, err := m.idGen.NewID()
	if err != nil {
		return Change{}, false, fmt.Errorf("generate contact id: %w", err)
	}

	duplicateOf, err := m.findFuzzyMatch(ctx, cand)
	if err != nil {
		return Change{}, false, err
	}

	now := m.clock.Now()
	created := contact.Contact{
		ID:                  id,
		Type:                cand.Type,
		NormalizedValue:     cand.NormalizedValue,
		DisplayValue:        cand.RawValue,
		BaseScore:           sc.Score,
		ConfidenceScore:     m.scorer.Rescore(sc.Score, 1),
		Sources:             []contact.SourceRef{cand.SourceRef()},
		FirstSeenAt:         now,
		LastSeenAt:          now,
		PossibleDuplicateOf: duplicateOf,
	}
	stored, err := m.store.UpsertContact(ctx, created)
	if err != nil {
		return Change{}, false, fmt.Errorf("upsert new contact: %w", err)
	}

	flagged := duplicateOf != ""
	if flagged {
		metrics.ObserveFuzzyFlagged()
		m.logger.Info("possible duplicate flagged",
			zap.String("contact_id", stored.ID),
			zap.String("duplicate_of", duplicateOf),
			zap.String("type", string(stored.Type)),
		)
	}
	return Change{
		Contact:         stored,
		IsNew:           true,
		ConfidenceDelta: stored.ConfidenceScore,
		FuzzyFlagged:    flagged,
	}, true, nil
}

// findFuzzyMatch scans same-type contacts for a near-miss to reference.
// Matches are flagged, never auto-merged: silently conflating two distinct
// agents at the same agency is worse than leaving a duplicate.
func (m *Merger) findFuzzyMatch(ctx context.Context, cand contact.Candidate) (string, error) {
	peers, err := m.store.ListByType(ctx, cand.Type)
	if err != nil {
		return "", fmt.Errorf("list contacts for fuzzy pass: %w", err)
	}
	bestID := ""
	bestSim := 0.0
	for _, peer := range peers {
		if !similar(cand.Type, cand.NormalizedValue, peer.NormalizedValue, m.cfg.FuzzyThreshold) {
			continue
		}
		sim := levenshteinSimilarity(cand.NormalizedValue, peer.NormalizedValue)
		if sim > bestSim {
			bestSim = sim
			bestID = peer.ID
		}
	}
	return bestID, nil
}
