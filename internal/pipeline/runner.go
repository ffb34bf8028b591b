package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/dedupe"
	"github.com/immotrace/contact-pipeline/internal/extract"
	"github.com/immotrace/contact-pipeline/internal/metrics"
	"github.com/immotrace/contact-pipeline/internal/ratelimit"
	"github.com/immotrace/contact-pipeline/internal/validate"
)

// State is the runner's position in its processing cycle.
type State int32

// Runner states, reported via the ops API.
const (
	StateIdle State = iota
	StateFetching
	StateBackoff
	StateExtracting
	StateScoring
	StateMerging
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateBackoff:
		return "backoff"
	case StateExtracting:
		return "extracting"
	case StateScoring:
		return "scoring"
	case StateMerging:
		return "merging"
	default:
		return "unknown"
	}
}

// ErrBatchAbandoned marks a source whose fetch retries were exhausted. The
// orchestrator records the source for a later re-run instead of failing the
// whole pipeline.
var ErrBatchAbandoned = errors.New("batch abandoned after fetch retries")

// Scorer is the scoring stage contract the runner depends on.
type Scorer interface {
	Score(cand contact.Candidate, validation contact.ValidationResult, sourceReliability float64) float64
}

// MergeFunc applies scored candidates to the contact store. The orchestrator
// wraps the merger with a lock so that merges stay serialized across sources.
type MergeFunc func(ctx context.Context, scored []contact.ScoredCandidate) (dedupe.Outcome, error)

// Runner drives one source through its fetch, extract, score, and merge
// cycle. It owns the per-source state machine; every transition is
// observable via State().
type Runner struct {
	source      contact.Source
	limiter     *ratelimit.Limiter
	extractors  *extract.Set
	validator   *validate.Validator
	scorer      Scorer
	merge       MergeFunc
	reliability func(sourceName string) float64
	backoff     *BackoffPolicy
	sleeper     Sleeper
	cfg         config.PipelineConfig
	logger      *zap.Logger

	state atomic.Int32
}

// RunnerDeps bundles runner collaborators.
type RunnerDeps struct {
	Source      contact.Source
	Limiter     *ratelimit.Limiter
	Extractors  *extract.Set
	Validator   *validate.Validator
	Scorer      Scorer
	Merge       MergeFunc
	Reliability func(sourceName string) float64
	Backoff     *BackoffPolicy
	Sleeper     Sleeper
	Config      config.PipelineConfig
	Logger      *zap.Logger
}

// NewRunner wires a runner for one source.
func NewRunner(deps RunnerDeps) (*Runner, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("source is required")
	case deps.Extractors == nil:
		return nil, fmt.Errorf("extractor set is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("validator is required")
	case deps.Scorer == nil:
		return nil, fmt.Errorf("scorer is required")
	case deps.Merge == nil:
		return nil, fmt.Errorf("merge func is required")
	case deps.Reliability == nil:
		return nil, fmt.Errorf("reliability lookup is required")
	}
	if deps.Backoff == nil {
		deps.Backoff = NewBackoffPolicy(deps.Config.BackoffBase(), deps.Config.BackoffMax())
	}
	if deps.Sleeper == nil {
		deps.Sleeper = TimerSleeper{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config.Workers <= 0 {
		deps.Config.Workers = 1
	}
	metrics.Init()
	return &Runner{
		source:      deps.Source,
		limiter:     deps.Limiter,
		extractors:  deps.Extractors,
		validator:   deps.Validator,
		scorer:      deps.Scorer,
		merge:       deps.Merge,
		reliability: deps.Reliability,
		backoff:     deps.Backoff,
		sleeper:     deps.Sleeper,
		cfg:         deps.Config,
		logger:      deps.Logger.With(zap.String("source", deps.Source.Name())),
	}, nil
}

// State reports the current cycle position.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// BatchOutcome summarizes one completed cycle.
type BatchOutcome struct {
	// Exhausted means the source had no more listings; the orchestrator
	// stops cycling this runner.
	Exhausted  bool
	Listings   int
	Candidates int
	Rejected   int
	Outcome    dedupe.Outcome
	// FailedListings carries the batch's listing IDs when extraction or
	// merging failed, so the orchestrator can report what was lost.
	FailedListings []string
}

// RunBatch executes one full cycle: fetch with retries, extract and score
// with bounded workers, then merge in listing-discovery order. The runner
// returns to idle regardless of outcome.
func (r *Runner) RunBatch(ctx context.Context) (BatchOutcome, error) {
	defer r.setState(StateIdle)

	listings, err := r.fetchWithRetry(ctx)
	if err != nil {
		return BatchOutcome{}, err
	}
	if len(listings) == 0 {
		return BatchOutcome{Exhausted: true}, nil
	}

	scoredPerListing, rejected, err := r.extractAndScore(ctx, listings)
	if err != nil {
		return BatchOutcome{FailedListings: listingIDs(listings)}, err
	}

	// Flatten in listing-discovery order so merge results are stable no
	// matter which worker finished first.
	var scored []contact.ScoredCandidate
	for _, perListing := range scoredPerListing {
		scored = append(scored, perListing...)
	}

	r.setState(StateMerging)
	outcome, err := r.merge(ctx, scored)
	if err != nil {
		return BatchOutcome{FailedListings: listingIDs(listings)},
			fmt.Errorf("merge batch from %s: %w", r.source.Name(), err)
	}

	return BatchOutcome{
		Listings:   len(listings),
		Candidates: len(scored),
		Rejected:   rejected,
		Outcome:    outcome,
	}, nil
}

func listingIDs(listings []contact.RawListing) []string {
	ids := make([]string, len(listings))
	for i, l := range listings {
		ids[i] = l.ID
	}
	return ids
}

// fetchWithRetry pulls the next batch, retrying retryable transport failures
// with exponential backoff. Retries are capped by MaxFetchAttempts; the
// first attempt does not count as a retry.
func (r *Runner) fetchWithRetry(ctx context.Context) ([]contact.RawListing, error) {
	name := r.source.Name()
	for attempt := 0; ; attempt++ {
		r.setState(StateFetching)
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, name); err != nil {
				return nil, fmt.Errorf("rate limit wait for %s: %w", name, err)
			}
		}

		fetchCtx := ctx
		var cancel context.CancelFunc
		if r.cfg.FetchTimeoutSec > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.FetchTimeoutSec)*time.Second)
		}
		listings, err := r.source.FetchBatch(fetchCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return listings, nil
		}

		metrics.ObserveFetchFailure(name)
		if !contact.Retryable(err) {
			return nil, fmt.Errorf("fetch batch from %s: %w", name, err)
		}
		if attempt >= r.cfg.MaxFetchAttempts {
			metrics.ObserveBatchAbandoned(name)
			r.logger.Warn("abandoning batch, fetch retries exhausted",
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return nil, fmt.Errorf("%w: %s: %s", ErrBatchAbandoned, name, err)
		}

		r.setState(StateBackoff)
		delay := r.backoff.Delay(attempt)
		metrics.ObserveFetchRetry(name)
		metrics.ObserveBackoffDelay(name, delay)
		r.logger.Info("fetch failed, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := r.sleeper.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("backoff interrupted for %s: %w", name, err)
		}
	}
}

// extractAndScore fans the batch out over a bounded worker pool. Results are
// collected per listing index to preserve discovery order.
func (r *Runner) extractAndScore(ctx context.Context, listings []contact.RawListing) ([][]contact.ScoredCandidate, int, error) {
	r.setState(StateExtracting)

	results := make([][]contact.ScoredCandidate, len(listings))
	var rejected atomic.Int64
	var scoringOnce sync.Once

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, listing := range listings {
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			if err := gctx.Err(); err != nil {
				return err
			}

			candidates := r.extractors.ExtractAll(gctx, listing)
			scoringOnce.Do(func() { r.setState(StateScoring) })

			scored := make([]contact.ScoredCandidate, 0, len(candidates))
			for _, cand := range candidates {
				validation := r.validator.Validate(gctx, cand)
				if !validation.StructurallyValid {
					rejected.Add(1)
					metrics.ObserveRejection(validation.Notes)
					continue
				}
				scored = append(scored, contact.ScoredCandidate{
					Candidate:  cand,
					Validation: validation,
					Score:      r.scorer.Score(cand, validation, r.reliability(cand.SourceName)),
				})
			}
			results[i] = scored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("extract batch from %s: %w", r.source.Name(), err)
	}
	return results, int(rejected.Load()), nil
}
