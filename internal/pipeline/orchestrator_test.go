package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/dedupe"
	"github.com/immotrace/contact-pipeline/internal/event"
	"github.com/immotrace/contact-pipeline/internal/extract"
	"github.com/immotrace/contact-pipeline/internal/pipeline"
	"github.com/immotrace/contact-pipeline/internal/score"
	sourcememory "github.com/immotrace/contact-pipeline/internal/source/memory"
	storememory "github.com/immotrace/contact-pipeline/internal/storage/memory"
	"github.com/immotrace/contact-pipeline/internal/validate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("contact-%d", g.n), nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type collectingEmitter struct {
	mu     sync.Mutex
	events []event.Discovery
}

func (e *collectingEmitter) Emit(evt event.Discovery) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *collectingEmitter) all() []event.Discovery {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]event.Discovery(nil), e.events...)
}

type testHarness struct {
	store   *storememory.ContactStore
	emitter *collectingEmitter
	sleeper *recordingSleeper
	cfg     config.Config
}

func listing(id, source, body string) contact.RawListing {
	return contact.RawListing{
		ID:           id,
		SourceName:   source,
		BodyText:     body,
		DiscoveredAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newOrchestrator(t *testing.T, cfg config.Config, sources ...contact.Source) (*pipeline.Orchestrator, *testHarness) {
	t.Helper()

	h := &testHarness{
		store:   storememory.NewContactStore(),
		emitter: &collectingEmitter{},
		sleeper: &recordingSleeper{},
		cfg:     cfg,
	}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	scorer := score.New(cfg.Scoring)
	merger := dedupe.New(h.store, scorer, clock, &fakeIDGen{}, cfg.Dedupe, zap.NewNop())

	orch, err := pipeline.New(pipeline.Deps{
		Sources:    sources,
		Extractors: extract.NewSet(cfg.Extract, nil, nil, zap.NewNop()),
		Validator:  validate.New(cfg.Validation, nil),
		Scorer:     scorer,
		Merger:     merger,
		Emitter:    h.emitter,
		Clock:      clock,
		Config:     cfg,
		Sleeper:    h.sleeper,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	return orch, h
}

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Pipeline.FetchTimeoutSec = 0
	return cfg
}

func TestRunMergesContactsFromBatches(t *testing.T) {
	t.Parallel()

	src := sourcememory.NewSource("portal-a",
		[]contact.RawListing{
			listing("lst-1", "portal-a", "Kontakt: info@example.de"),
			listing("lst-2", "portal-a", "Rufen Sie an: +49 89 1234567"),
		},
		[]contact.RawListing{
			listing("lst-3", "portal-a", "Schreiben Sie an info@example.de"),
		},
	)

	orch, h := newOrchestrator(t, defaultConfig(t), src)
	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	sr := report.Sources["portal-a"]
	require.Equal(t, 2, sr.Batches)
	require.Equal(t, 3, sr.Listings)
	require.Equal(t, 2, sr.Created)
	require.False(t, sr.Abandoned)
	require.Empty(t, report.Requeue())

	require.Equal(t, 2, h.store.Len())
	email, found, err := h.store.FindByKey(context.Background(), contact.Key{
		Type: contact.TypeEmail, NormalizedValue: "info@example.de",
	})
	require.NoError(t, err)
	require.True(t, found)
	// Second listing from the same source adds a source ref but no
	// corroboration bonus.
	require.Len(t, email.Sources, 2)
	require.Equal(t, 1, email.DistinctSources())
	require.InDelta(t, 0.81, email.ConfidenceScore, 1e-9)

	events := h.emitter.all()
	require.NotEmpty(t, events)
	require.True(t, events[0].IsNew)
}

func TestRunRetriesWithIncreasingBackoffThenAbandons(t *testing.T) {
	t.Parallel()

	throttled := &contact.TransportError{StatusCode: 429, Err: errors.New("too many requests")}
	src := sourcememory.NewSource("portal-b")
	src.FailNextWith(throttled, throttled, throttled, throttled)

	cfg := defaultConfig(t)
	cfg.Pipeline.MaxFetchAttempts = 3

	orch, h := newOrchestrator(t, cfg, src)
	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	// Initial attempt plus three retries.
	require.Equal(t, 4, src.Calls())
	delays := h.sleeper.recorded()
	require.Len(t, delays, 3)
	require.Less(t, delays[0], delays[1])
	require.Less(t, delays[1], delays[2])

	sr := report.Sources["portal-b"]
	require.True(t, sr.Abandoned)
	require.Equal(t, []string{"portal-b"}, report.Requeue())
	require.Equal(t, 0, h.store.Len())
}

func TestRunDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	gone := &contact.TransportError{StatusCode: 404, Err: errors.New("not found")}
	src := sourcememory.NewSource("portal-c")
	src.FailNextWith(gone)

	orch, h := newOrchestrator(t, defaultConfig(t), src)
	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, src.Calls())
	require.Empty(t, h.sleeper.recorded())
	require.True(t, report.Sources["portal-c"].Abandoned)
}

func TestRunCorroboratesAcrossSources(t *testing.T) {
	t.Parallel()

	srcA := sourcememory.NewSource("portal-a", []contact.RawListing{
		listing("lst-1", "portal-a", "Kontakt: info@example.de"),
	})
	srcB := sourcememory.NewSource("portal-b", []contact.RawListing{
		listing("lst-9", "portal-b", "E-Mail: info@example.de"),
	})

	cfg := defaultConfig(t)
	orch, h := newOrchestrator(t, cfg, srcA, srcB)
	report, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Sources["portal-a"].Batches)
	require.Equal(t, 1, report.Sources["portal-b"].Batches)

	c, found, err := h.store.FindByKey(context.Background(), contact.Key{
		Type: contact.TypeEmail, NormalizedValue: "info@example.de",
	})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, c.DistinctSources())
	// Base score 0.81 plus one corroboration step.
	require.InDelta(t, 0.86, c.ConfidenceScore, 1e-9)
	require.Equal(t, 1, c.MergeCount)
}

func TestRunResetsReportBetweenRuns(t *testing.T) {
	t.Parallel()

	throttled := &contact.TransportError{StatusCode: 429, Err: errors.New("too many requests")}
	src := sourcememory.NewSource("portal-h", []contact.RawListing{
		listing("lst-1", "portal-h", "info@example.de"),
	})
	src.FailNextWith(throttled, throttled, throttled, throttled)

	cfg := defaultConfig(t)
	cfg.Pipeline.MaxFetchAttempts = 3

	orch, _ := newOrchestrator(t, cfg, src)
	first, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.True(t, first.Sources["portal-h"].Abandoned)
	require.Equal(t, []string{"portal-h"}, first.Requeue())

	// The failure queue is drained, so the requeue pass succeeds. Its
	// report must not carry the first pass's abandonment or counters.
	second, err := orch.Run(context.Background())
	require.NoError(t, err)
	sr := second.Sources["portal-h"]
	require.False(t, sr.Abandoned)
	require.Empty(t, sr.Error)
	require.Equal(t, 1, sr.Batches)
	require.Equal(t, 1, sr.Created)
	require.Empty(t, second.Requeue())
}

type failingStore struct {
	contact.Store
	err error
}

func (s failingStore) UpsertContact(context.Context, contact.Contact) (contact.Contact, error) {
	return contact.Contact{}, s.err
}

func TestMergeFailureRecordsFailedListings(t *testing.T) {
	t.Parallel()

	src := sourcememory.NewSource("portal-g", []contact.RawListing{
		listing("lst-1", "portal-g", "Kontakt: info@example.de"),
		listing("lst-2", "portal-g", "E-Mail: kontakt@example.de"),
	})

	cfg := defaultConfig(t)
	store := failingStore{Store: storememory.NewContactStore(), err: errors.New("connection reset")}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	scorer := score.New(cfg.Scoring)
	merger := dedupe.New(store, scorer, clock, &fakeIDGen{}, cfg.Dedupe, zap.NewNop())

	orch, err := pipeline.New(pipeline.Deps{
		Sources:    []contact.Source{src},
		Extractors: extract.NewSet(cfg.Extract, nil, nil, zap.NewNop()),
		Validator:  validate.New(cfg.Validation, nil),
		Scorer:     scorer,
		Merger:     merger,
		Clock:      clock,
		Config:     cfg,
		Sleeper:    &recordingSleeper{},
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	sr := report.Sources["portal-g"]
	require.True(t, sr.Abandoned)
	require.Contains(t, sr.Error, "connection reset")
	require.Equal(t, []string{"lst-1", "lst-2"}, sr.FailedListings)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	t.Parallel()

	throttled := &contact.TransportError{StatusCode: 503, Err: errors.New("unavailable")}
	src := sourcememory.NewSource("portal-d")
	src.FailNextWith(throttled, throttled, throttled, throttled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch, _ := newOrchestrator(t, defaultConfig(t), src)
	_, err := orch.Run(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRejectedCandidatesAreCounted(t *testing.T) {
	t.Parallel()

	// All-same-digit national number fails structural validation.
	src := sourcememory.NewSource("portal-e", []contact.RawListing{
		listing("lst-1", "portal-e", "Tel: +49 111 111 1111"),
	})

	orch, h := newOrchestrator(t, defaultConfig(t), src)
	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	sr := report.Sources["portal-e"]
	require.Equal(t, 1, sr.Rejected)
	require.Equal(t, 0, sr.Created)
	require.Equal(t, 0, h.store.Len())
}

func TestStatesReportIdleAfterRun(t *testing.T) {
	t.Parallel()

	src := sourcememory.NewSource("portal-f", []contact.RawListing{
		listing("lst-1", "portal-f", "info@example.de"),
	})

	orch, _ := newOrchestrator(t, defaultConfig(t), src)
	states := orch.States()
	require.Equal(t, "idle", states["portal-f"])

	_, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "idle", orch.States()["portal-f"])
}
