package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcsclient "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/api"
	"github.com/immotrace/contact-pipeline/internal/clock/system"
	"github.com/immotrace/contact-pipeline/internal/config"
	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/dedupe"
	"github.com/immotrace/contact-pipeline/internal/event"
	"github.com/immotrace/contact-pipeline/internal/event/sinks"
	"github.com/immotrace/contact-pipeline/internal/extract"
	gcsimages "github.com/immotrace/contact-pipeline/internal/images/gcs"
	uuidgen "github.com/immotrace/contact-pipeline/internal/id/uuid"
	"github.com/immotrace/contact-pipeline/internal/logging"
	"github.com/immotrace/contact-pipeline/internal/ocr"
	"github.com/immotrace/contact-pipeline/internal/pipeline"
	gcppublisher "github.com/immotrace/contact-pipeline/internal/publisher/pubsub"
	"github.com/immotrace/contact-pipeline/internal/ratelimit"
	"github.com/immotrace/contact-pipeline/internal/score"
	"github.com/immotrace/contact-pipeline/internal/source/feed"
	storememory "github.com/immotrace/contact-pipeline/internal/storage/memory"
	pgstore "github.com/immotrace/contact-pipeline/internal/storage/postgres"
	"github.com/immotrace/contact-pipeline/internal/validate"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one discovery pass over all configured sources",
		Long: `Fetches listing batches from every configured source, extracts and
scores contact candidates, and merges them into the contact store. Sources
whose batches were abandoned after fetch retries are requeued once at the
end of the pass. An ops HTTP server exposes health, metrics, and runner
states for the duration of the run.`,
		RunE: runPipeline,
	}
	return cmd
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	hub, hubCleanup, err := buildEventHub(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer hubCleanup()

	orch, err := buildOrchestrator(ctx, cfg, store, hub, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(store, orch, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server shutdown error", zap.Error(err))
		}
	}()

	report, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	logReport(logger, report)

	// One retry pass for sources abandoned under backpressure. A second
	// abandonment stays abandoned until the next scheduled run.
	if requeue := report.Requeue(); len(requeue) > 0 {
		logger.Info("requeueing abandoned sources", zap.Strings("sources", requeue))
		retryReport, err := orch.Run(ctx)
		if err != nil {
			return err
		}
		logReport(logger, retryReport)
	}

	logger.Info("discovery pass complete")
	return nil
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (contact.Store, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database configured, using in-memory contact store")
		return storememory.NewContactStore(), func() {}, nil
	}
	store, pool, err := pgstore.NewContactStore(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("init contact store: %w", err)
	}
	return store, pool.Close, nil
}

func buildEventHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*event.Hub, func(), error) {
	sinkList := []event.Sink{
		sinks.NewLogSink(logger),
		sinks.NewPromSink(),
	}

	var pubsubClient *pubsub.Client
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		var err error
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub client: %w", err)
		}
		publisher, err := gcppublisher.New(pubsubClient.Publisher(cfg.PubSub.TopicName))
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		pubSink, err := sinks.NewPublisherSink(publisher, cfg.PubSub.TopicName, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init publisher sink: %w", err)
		}
		sinkList = append(sinkList, pubSink)
	}

	hub := event.NewHub(event.Config{Logger: logger.Named("events")}, sinkList...)
	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Error("event hub close error", zap.Error(err))
		}
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Error("pubsub client close error", zap.Error(err))
			}
		}
	}
	return hub, cleanup, nil
}

func buildOrchestrator(
	ctx context.Context,
	cfg config.Config,
	store contact.Store,
	hub *event.Hub,
	logger *zap.Logger,
) (*pipeline.Orchestrator, error) {
	var images contact.ImageStore
	if cfg.Images.GCSBucket != "" {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		images, err = gcsimages.New(client, gcsimages.Config{Bucket: cfg.Images.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init image store: %w", err)
		}
	}

	var ocrClient contact.OCRClient
	if cfg.Extract.OCREnabled && cfg.OCR.Endpoint != "" {
		httpClient, err := ocr.NewHTTPClient(cfg.OCR.Endpoint, cfg.OCR.APIKey,
			time.Duration(cfg.OCR.TimeoutSec)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("init ocr client: %w", err)
		}
		ocrClient = ocr.NewCachingClient(httpClient)
	}

	sources, err := buildSources(cfg, logger)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]ratelimit.Config, len(cfg.Sources))
	for name, sc := range cfg.Sources {
		if sc.RPS > 0 {
			overrides[name] = ratelimit.Config{RPS: sc.RPS, Burst: sc.Burst}
		}
	}

	clock := system.New()
	scorer := score.New(cfg.Scoring)
	merger := dedupe.New(store, scorer, clock, uuidgen.NewGenerator(), cfg.Dedupe, logger.Named("dedupe"))

	return pipeline.New(pipeline.Deps{
		Sources:    sources,
		Extractors: extract.NewSet(cfg.Extract, ocrClient, images, logger.Named("extract")),
		Validator:  validate.New(cfg.Validation, validate.DNSChecker{}),
		Scorer:     scorer,
		Merger:     merger,
		Limiter:    ratelimit.New(ratelimit.Config{RPS: 2, Burst: 2}, overrides),
		Emitter:    hub,
		Clock:      clock,
		Config:     cfg,
		Logger:     logger.Named("pipeline"),
	})
}

func buildSources(cfg config.Config, logger *zap.Logger) ([]contact.Source, error) {
	var sources []contact.Source
	for name, sc := range cfg.Sources {
		if sc.FeedURL == "" {
			logger.Warn("source has no feed url, skipping", zap.String("source", name))
			continue
		}
		src, err := feed.New(feed.Config{
			Name:           name,
			FeedURL:        sc.FeedURL,
			RequestTimeout: time.Duration(cfg.Pipeline.FetchTimeoutSec) * time.Second,
		}, logger.Named("source"))
		if err != nil {
			return nil, fmt.Errorf("init source %s: %w", name, err)
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured with a feed url")
	}
	return sources, nil
}

func logReport(logger *zap.Logger, report pipeline.Report) {
	for name, sr := range report.Sources {
		logger.Info("source report",
			zap.String("source", name),
			zap.Int("batches", sr.Batches),
			zap.Int("listings", sr.Listings),
			zap.Int("candidates", sr.Candidates),
			zap.Int("rejected", sr.Rejected),
			zap.Int("created", sr.Created),
			zap.Int("updated", sr.Updated),
			zap.Bool("abandoned", sr.Abandoned),
			zap.Strings("failed_listings", sr.FailedListings),
		)
	}
}
