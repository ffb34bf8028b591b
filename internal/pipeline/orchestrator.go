// Package pipeline orchestrates the contact discovery run: fetching listing
// batches per source, extracting and scoring candidates with bounded
// concurrency, and merging results into the contact store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/dedupe"
	"github.com/immotrace/contact-pipeline/internal/event"
	"github.com/immotrace/contact-pipeline/internal/extract"
	"github.com/immotrace/contact-pipeline/internal/ratelimit"
	"github.com/immotrace/contact-pipeline/internal/validate"
)

// SourceReport accumulates per-source counters over one pipeline run.
type SourceReport struct {
	Batches    int    `json:"batches"`
	Listings   int    `json:"listings"`
	Candidates int    `json:"candidates"`
	Rejected   int    `json:"rejected"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Abandoned  bool   `json:"abandoned"`
	Error      string `json:"error,omitempty"`
	// FailedListings holds the listing IDs of batches whose extraction or
	// merge failed after a successful fetch.
	FailedListings []string `json:"failed_listings,omitempty"`
}

// Report is the outcome of one pipeline run across all sources.
type Report struct {
	Sources map[string]SourceReport `json:"sources"`
}

// Requeue lists sources whose batches were abandoned, sorted for stable
// output. The caller decides whether to re-run them.
func (r Report) Requeue() []string {
	var out []string
	for name, sr := range r.Sources {
		if sr.Abandoned {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Deps bundles everything the orchestrator needs.
type Deps struct {
	Sources    []contact.Source
	Extractors *extract.Set
	Validator  *validate.Validator
	Scorer     Scorer
	Merger     *dedupe.Merger
	Limiter    *ratelimit.Limiter
	Emitter    event.Emitter
	Clock      contact.Clock
	Config     config.Config
	Sleeper    Sleeper
	Logger     *zap.Logger
}

// Orchestrator fans a run out over all configured sources. Each source gets
// its own runner goroutine; the merge stage is serialized across sources so
// the contact store sees one writer at a time.
type Orchestrator struct {
	deps    Deps
	runners map[string]*Runner

	mergeMu sync.Mutex

	reportMu sync.Mutex
	report   Report
}

// New wires runners for every source.
func New(deps Deps) (*Orchestrator, error) {
	if len(deps.Sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}
	if deps.Merger == nil {
		return nil, fmt.Errorf("merger is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	o := &Orchestrator{
		deps:    deps,
		runners: make(map[string]*Runner, len(deps.Sources)),
		report:  Report{Sources: make(map[string]SourceReport, len(deps.Sources))},
	}
	for _, src := range deps.Sources {
		if _, dup := o.runners[src.Name()]; dup {
			return nil, fmt.Errorf("duplicate source name %q", src.Name())
		}
		runner, err := NewRunner(RunnerDeps{
			Source:      src,
			Limiter:     deps.Limiter,
			Extractors:  deps.Extractors,
			Validator:   deps.Validator,
			Scorer:      deps.Scorer,
			Merge:       o.mergeFor(src.Name()),
			Reliability: deps.Config.Reliability,
			Sleeper:     deps.Sleeper,
			Config:      deps.Config.Pipeline,
			Logger:      deps.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("wire runner for %s: %w", src.Name(), err)
		}
		o.runners[src.Name()] = runner
	}
	return o, nil
}

// Run drives every source until it is exhausted or abandoned. Abandoned
// sources do not fail the run; they are reported for requeueing. Run returns
// an error only for unrecoverable failures such as store errors or context
// cancellation. Each call starts a fresh report, so a requeue pass reflects
// only its own cycle and a recovered source no longer shows as abandoned.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	o.reportMu.Lock()
	o.report = Report{Sources: make(map[string]SourceReport, len(o.runners))}
	o.reportMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for name, runner := range o.runners {
		g.Go(func() error {
			return o.runSource(gctx, name, runner)
		})
	}
	err := g.Wait()

	o.reportMu.Lock()
	report := Report{Sources: make(map[string]SourceReport, len(o.report.Sources))}
	for name, sr := range o.report.Sources {
		report.Sources[name] = sr
	}
	o.reportMu.Unlock()

	if err != nil {
		return report, fmt.Errorf("pipeline run: %w", err)
	}
	return report, nil
}

func (o *Orchestrator) runSource(ctx context.Context, name string, runner *Runner) error {
	for {
		outcome, err := runner.RunBatch(ctx)
		if err != nil {
			if errors.Is(err, ErrBatchAbandoned) {
				o.updateReport(name, func(sr *SourceReport) {
					sr.Abandoned = true
					sr.Error = err.Error()
				})
				o.deps.Logger.Warn("source abandoned for this run",
					zap.String("source", name))
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Non-retryable fetch, extract, or merge failure: record and
			// move on, the other sources are unaffected.
			o.updateReport(name, func(sr *SourceReport) {
				sr.Abandoned = true
				sr.Error = err.Error()
				sr.FailedListings = append(sr.FailedListings, outcome.FailedListings...)
			})
			o.deps.Logger.Error("source failed", zap.String("source", name), zap.Error(err))
			return nil
		}
		if outcome.Exhausted {
			return nil
		}
		o.updateReport(name, func(sr *SourceReport) {
			sr.Batches++
			sr.Listings += outcome.Listings
			sr.Candidates += outcome.Candidates
			sr.Rejected += outcome.Rejected
			for _, ch := range outcome.Outcome.Changes {
				if ch.IsNew {
					sr.Created++
				} else {
					sr.Updated++
				}
			}
		})
	}
}

// mergeFor returns the serialized merge closure for one source. Merging and
// event emission happen under one lock so event order matches store order.
func (o *Orchestrator) mergeFor(sourceName string) MergeFunc {
	return func(ctx context.Context, scored []contact.ScoredCandidate) (dedupe.Outcome, error) {
		o.mergeMu.Lock()
		defer o.mergeMu.Unlock()

		outcome, err := o.deps.Merger.Merge(ctx, scored)
		if err != nil {
			return outcome, err
		}
		if o.deps.Emitter != nil {
			for _, ch := range outcome.Changes {
				o.deps.Emitter.Emit(event.Discovery{
					ContactID:       ch.Contact.ID,
					ContactType:     ch.Contact.Type,
					NormalizedValue: ch.Contact.NormalizedValue,
					SourceName:      sourceName,
					IsNew:           ch.IsNew,
					ConfidenceDelta: ch.ConfidenceDelta,
					Confidence:      ch.Contact.ConfidenceScore,
					FuzzyFlagged:    ch.FuzzyFlagged,
					TS:              o.deps.Clock.Now(),
				})
			}
		}
		return outcome, nil
	}
}

func (o *Orchestrator) updateReport(name string, fn func(*SourceReport)) {
	o.reportMu.Lock()
	defer o.reportMu.Unlock()
	sr := o.report.Sources[name]
	fn(&sr)
	o.report.Sources[name] = sr
}

// States snapshots each runner's current state for the ops API.
func (o *Orchestrator) States() map[string]string {
	out := make(map[string]string, len(o.runners))
	for name, runner := range o.runners {
		out[name] = runner.State().String()
	}
	return out
}
