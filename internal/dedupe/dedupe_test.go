package dedupe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/score"
	"github.com/immotrace/contact-pipeline/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeIDGen struct {
	n int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("contact-%d", g.n), nil
}

func newMergerForTest(store contact.Store) *Merger {
	scorer := score.New(config.ScoringConfig{
		ExtractorWeight:   0.4,
		SourceWeight:      0.3,
		ValidationWeight:  0.3,
		CorroborationStep: 0.05,
		CorroborationCap:  0.15,
	})
	clock := &fakeClock{now: time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)}
	return New(store, scorer, clock, &fakeIDGen{}, config.DedupeConfig{FuzzyThreshold: 0.84}, zap.NewNop())
}

func scoredPhone(listingID, sourceName, value string, s float64) contact.ScoredCandidate {
	return contact.ScoredCandidate{
		Candidate: contact.Candidate{
			ListingID:       listingID,
			SourceName:      sourceName,
			Extractor:       contact.ExtractorPhone,
			Type:            contact.TypePhone,
			RawValue:        value,
			NormalizedValue: value,
			Confidence:      0.85,
		},
		Validation: contact.ValidationResult{StructurallyValid: true},
		Score:      s,
	}
}

func TestMerge_CreatesNewContact(t *testing.T) {
	t.Parallel()
	store := memory.NewContactStore()
	m := newMergerForTest(store)

	outcome, err := m.Merge(context.Background(), []contact.ScoredCandidate{
		scoredPhone("l1", "immowelt", "+49891234567", 0.8),
	})
	require.NoError(t, err)
	require.Len(t, outcome.Created(), 1)
	require.Empty(t, outcome.Updated())

	created := outcome.Created()[0]
	require.Equal(t, "contact-1", created.ID)
	require.InDelta(t, 0.8, created.ConfidenceScore, 1e-9)
	require.Len(t, created.Sources, 1)
	require.Empty(t, created.PossibleDuplicateOf)
}

func TestMerge_ExactMatchAlwaysMerges(t *testing.T) {
	t.Parallel()
	store := memory.NewContactStore()
	m := newMergerForTest(store)
	ctx := context.Background()

	_, err := m.Merge(ctx, []contact.ScoredCandidate{scoredPhone("l1", "immowelt", "+49891234567", 0.8)})
	require.NoError(t, err)

	outcome, err := m.Merge(ctx, []contact.ScoredCandidate{scoredPhone("l2", "kleinanzeigen", "+49891234567", 0.6)})
	require.NoError(t, err)
	require.Empty(t, outcome.Created())
	require.Len(t, outcome.Updated(), 1)

	merged := outcome.Updated()[0]
	require.Len(t, merged.Sources, 2)
	require.Equal(t, 2, merged.DistinctSources())
	// max(0.8, 0.6) + one corroborating source bonus.
	require.InDelta(t, 0.85, merged.ConfidenceScore, 1e-9)
	require.Equal(t, 1, merged.MergeCount)
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()
	store := memory.NewContactStore()
	m := newMergerForTest(store)
	ctx := context.Background()

	cand := scoredPhone("l1", "immowelt", "+49891234567", 0.8)
	first, err := m.Merge(ctx, []contact.ScoredCandidate{cand})
	require.NoError(t, err)
	require.Len(t, first.Changes, 1)
	upsertsAfterFirst := store.UpsertCount()

	second, err := m.Merge(ctx, []contact.ScoredCandidate{cand})
	require.NoError(t, err)
	require.Empty(t, second.Changes)
	require.Equal(t, upsertsAfterFirst, store.UpsertCount())
	require.Equal(t, 1, store.Len())

	got, found, err := store.FindByKey(ctx, contact.Key{Type: contact.TypePhone, NormalizedValue: "+49891234567"})
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.Sources, 1)
	require.InDelta(t, 0.8, got.ConfidenceScore, 1e-9)
}

func TestMerge_CorroborationBound(t *testing.T) {
	t.Parallel()
	store := memory.NewContactStore()
	m := newMergerForTest(store)
	ctx := context.Background()

	base := scoredPhone("l0", "source-0", "+49891234567", 0.7)
	_, err := m.Merge(ctx, []contact.ScoredCandidate{base})
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		_, err := m.Merge(ctx, []contact.ScoredCandidate{
			scoredPhone(fmt.Sprintf("l%d", i), fmt.Sprintf("source-%d", i), "+49891234567", 0.7),
		})
		require.NoError(t, err)
	}

	got, found, err := store.FindByKey(ctx, contact.Key{Type: contact.TypePhone, NormalizedValue: "+49891234567"})
	require.NoError(t, err)
	require.True(t, found)
	require.LessOrEqual(t, got.ConfidenceScore, 0.7+0.15+1e-9)
	require.InDelta(t, 0.85, got.ConfidenceScore, 1e-9)
}

func TestMerge_FuzzyFlaggedNotMerged(t *testing.T) {
	t.Parallel()
	store := memory.NewContactStore()
	m := newMergerForTest(store)
	ctx := context.Background()

	_, err := m.Merge(ctx, []contact.ScoredCandidate{scoredPhone("l1", "immowelt", "+49891234567", 0.8)})
	require.NoError(t, err)

	// Same number with a stray trunk zero: near-miss, not an exact match.
	outcome, err := m.Merge(ctx, []contact.ScoredCandidate{scoredPhone("l2", "kleinanzeigen", "+490891234567", 0.8)})
	require.NoError(t, err)
	require.Len(t, outcome.Created(), 1)
	require.Empty(t, outcome.Updated())

	flagged := outcome.Created()[0]
	require.Equal(t, "contact-1", flagged.PossibleDuplicateOf)
	require.True(t, outcome.Changes[0].FuzzyFlagged)
	require.Equal(t, 2, store.Len(), "two distinct contacts remain")
}

func TestMerge_FuzzyEmailTypo(t *testing.T) {
	t.Parallel()
	store := memory.NewContactStore()
	m := newMergerForTest(store)
	ctx := context.Background()

	mk := func(listing, value string) contact.ScoredCandidate {
		return contact.ScoredCandidate{
			Candidate: contact.Candidate{
				ListingID:       listing,
				SourceName:      "immowelt",
				Extractor:       contact.ExtractorEmail,
				Type:            contact.TypeEmail,
				RawValue:        value,
				NormalizedValue: value,
				Confidence:      0.9,
			},
			Validation: contact.ValidationResult{StructurallyValid: true},
			Score:      0.8,
		}
	}

	_, err := m.Merge(ctx, []contact.ScoredCandidate{mk("l1", "vermietung@mueller-immo.de")})
	require.NoError(t, err)

	outcome, err := m.Merge(ctx, []contact.ScoredCandidate{mk("l2", "vermietun@mueller-immo.de")})
	require.NoError(t, err)
	require.Len(t, outcome.Created(), 1)
	require.Equal(t, "contact-1", outcome.Created()[0].PossibleDuplicateOf)
}

func TestMerge_DifferentTypesNeverCollide(t *testing.T) {
	t.Parallel()
	store := memory.NewContactStore()
	m := newMergerForTest(store)
	ctx := context.Background()

	email := contact.ScoredCandidate{
		Candidate: contact.Candidate{
			ListingID: "l1", SourceName: "s", Extractor: contact.ExtractorEmail,
			Type: contact.TypeEmail, RawValue: "x", NormalizedValue: "shared-value",
		},
		Score: 0.5,
	}
	form := contact.ScoredCandidate{
		Candidate: contact.Candidate{
			ListingID: "l1", SourceName: "s", Extractor: contact.ExtractorForm,
			Type: contact.TypeForm, RawValue: "x", NormalizedValue: "shared-value",
		},
		Score: 0.3,
	}
	outcome, err := m.Merge(ctx, []contact.ScoredCandidate{email, form})
	require.NoError(t, err)
	require.Len(t, outcome.Created(), 2)
	require.Equal(t, 2, store.Len())
}
