// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-catalog/internal/api"
	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
	"github.com/JakeFAU/affiliate-catalog/internal/classify"
	"github.com/JakeFAU/affiliate-catalog/internal/config"
	"github.com/JakeFAU/affiliate-catalog/internal/extract"
	collyfetcher "github.com/JakeFAU/affiliate-catalog/internal/fetcher/colly"
	"github.com/JakeFAU/affiliate-catalog/internal/fetcher/headless"
	"github.com/JakeFAU/affiliate-catalog/internal/id/uuid"
	"github.com/JakeFAU/affiliate-catalog/internal/ingest"
	"github.com/JakeFAU/affiliate-catalog/internal/metrics"
	"github.com/JakeFAU/affiliate-catalog/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/affiliate-catalog/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/affiliate-catalog/internal/publisher/pubsub"
	"github.com/JakeFAU/affiliate-catalog/internal/resolver"
	"github.com/JakeFAU/affiliate-catalog/internal/scheduler"
	"github.com/JakeFAU/affiliate-catalog/internal/storage/archive"
	"github.com/JakeFAU/affiliate-catalog/internal/storage/gcs"
	"github.com/JakeFAU/affiliate-catalog/internal/storage/local"
	memorystorage "github.com/JakeFAU/affiliate-catalog/internal/storage/memory"
	"github.com/JakeFAU/affiliate-catalog/internal/storage/postgres"
)

// App holds the services one sync run needs. It is built once per process from
// config and closed by the command that built it.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	metrics   *metrics.Recorder
	clock     catalog.Clock
	ids       *uuid.Generator
	tracker   *api.Tracker
	scheme    *catalog.URLScheme
	ingester  *ingest.Ingester
	resolver  *resolver.Resolver
	scheduler *scheduler.Scheduler
	snapshot  *local.Snapshot
	mirrors   []namedMirror
	publisher catalog.Publisher

	// current is the store of the run in progress, read by the status server.
	current atomic.Pointer[catalog.Store]
	closers []func()
	out     io.Writer
}

type namedMirror struct {
	name   string
	mirror catalog.Mirror
}

// ResolveResult is the outcome of a single-URL resolution.
type ResolveResult struct {
	ID           catalog.ProductID `json:"id"`
	Tier         string            `json:"tier"`
	CanonicalURL string            `json:"canonical_url"`
}

// New wires every service from cfg. Optional sinks are only connected when configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		clock:   catalog.SystemClock{},
		ids:     uuid.New(),
		out:     os.Stdout,
	}
	a.tracker = api.NewTracker(a.clock)
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg
	scheme, err := catalog.NewURLScheme(cfg.Catalog.IDPattern, cfg.Catalog.CanonicalPattern, cfg.Catalog.CanonicalTemplate)
	if err != nil {
		return fmt.Errorf("url scheme: %w", err)
	}
	a.scheme = scheme

	categories, err := classify.LoadCategories(cfg.Catalog.CategoriesPath)
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		a.logger.Warn("no categories configured, using fallback slug",
			zap.String("path", cfg.Catalog.CategoriesPath),
			zap.String("fallback", classify.FallbackSlug),
		)
	}

	a.snapshot, err = local.NewSnapshot(cfg.Catalog.SnapshotPath)
	if err != nil {
		return err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		Timeout:        cfg.HTTPTimeout(),
		MaxRedirects:   cfg.HTTP.MaxRedirects,
	})

	// Without a browser, product pages are read from the raw HTTP body and the
	// render tier is skipped.
	var pageRenderer catalog.Renderer = fetcher
	var tierRenderer catalog.Renderer
	if cfg.Headless.Enabled {
		session, err := a.newSession()
		if err != nil {
			return err
		}
		pageRenderer = session
		tierRenderer = session
	}

	a.resolver = resolver.New(
		resolver.DefaultTiers(scheme, fetcher, tierRenderer, cfg.HTTPTimeout(), cfg.RenderTimeout()),
		a.logger.Named("resolver"),
		a.metrics,
	)
	extractor := extract.New(extract.Config{
		Timeout:     cfg.ExtractTimeout(),
		Settle:      cfg.Settle(),
		ImageMarker: cfg.Extract.ImageMarker,
	}, pageRenderer, a.logger.Named("extract"))

	a.ingester = ingest.New(ingest.Config{
		SourceURL:   cfg.Source.CSVURL,
		MaxRows:     cfg.Source.MaxRows,
		MaxAttempts: cfg.Source.MaxAttempts,
		Timeout:     cfg.SourceTimeout(),
	}, fetcher, a.logger.Named("ingest"))

	a.scheduler = scheduler.New(scheduler.Config{
		Concurrency:      cfg.Scheduler.Concurrency,
		RecheckCount:     cfg.Scheduler.RecheckCount,
		OperationTimeout: cfg.OperationTimeout(),
	}, scheduler.Deps{
		Resolver:   a.resolver,
		Extractor:  extractor,
		Scheme:     scheme,
		Categories: categories,
		Clock:      a.clock,
		Metrics:    a.metrics,
	}, a.logger.Named("scheduler"))

	if err := a.initArchive(ctx); err != nil {
		return err
	}
	if err := a.initDatabase(ctx); err != nil {
		return err
	}
	return a.initPublisher(ctx)
}

func (a *App) newSession() (*headless.Session, error) {
	cfg := a.cfg
	limiter := ratelimit.New(ratelimit.Config{
		PerHostQPS: cfg.Headless.DomainQPS,
		Burst:      cfg.Headless.DomainBurst,
		OnDelay:    a.metrics.ObserveRenderDelay,
	})
	maxTabs := cfg.Headless.MaxTabs
	if maxTabs == 0 {
		maxTabs = cfg.Scheduler.Concurrency
	}
	session, err := headless.NewSession(headless.Config{
		MaxTabs:            maxTabs,
		UserAgent:          cfg.HTTP.UserAgent,
		AcceptLanguage:     cfg.HTTP.AcceptLanguage,
		NavigationTimeout:  cfg.RenderTimeout(),
		BlockedURLPatterns: cfg.Headless.BlockedPatterns,
		ExecPath:           cfg.Headless.ExecPath,
	}, limiter, a.logger.Named("headless"))
	if err != nil {
		return nil, fmt.Errorf("headless session: %w", err)
	}
	a.closers = append(a.closers, session.Close)
	return session, nil
}

func (a *App) initArchive(ctx context.Context) error {
	cfg := a.cfg.Archive
	var store catalog.BlobStore
	switch cfg.Backend {
	case "", "none":
		return nil
	case "local":
		s, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return fmt.Errorf("local archive: %w", err)
		}
		store = s
	case "memory":
		store = memorystorage.NewBlobStore()
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close storage client", zap.Error(err))
			}
		})
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return fmt.Errorf("gcs archive: %w", err)
		}
		store = s
	default:
		return fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
	mirror, err := archive.New(store, a.logger.Named("archive"))
	if err != nil {
		return err
	}
	a.logger.Info("snapshot archive enabled", zap.String("backend", cfg.Backend))
	a.mirrors = append(a.mirrors, namedMirror{name: "archive", mirror: mirror})
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	cfg := a.cfg.DB
	if cfg.DSN == "" {
		return nil
	}
	mirror, err := postgres.NewCatalogMirror(ctx, postgres.Config{
		DSN:           cfg.DSN,
		ProductsTable: cfg.ProductsTable,
		RunsTable:     cfg.RunsTable,
		MaxConns:      cfg.MaxConns,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, mirror.Close)
	a.logger.Info("postgres catalog mirror enabled", zap.String("products_table", cfg.ProductsTable))
	a.mirrors = append(a.mirrors, namedMirror{name: "postgres", mirror: mirror})
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	cfg := a.cfg.Notify
	switch cfg.Backend {
	case "", "none":
		return nil
	case "memory":
		a.publisher = memorypublisher.New()
	case "pubsub":
		client, err := pubsubpublisher.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return err
		}
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, func() {
			pub.Stop()
			if err := client.Close(); err != nil {
				a.logger.Warn("close pubsub client", zap.Error(err))
			}
		})
		a.publisher = pub
	default:
		return fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
	a.logger.Info("run notifications enabled", zap.String("backend", cfg.Backend), zap.String("topic", cfg.TopicName))
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Sync performs one full run: ingest, resolve and merge, persist, then fan out to
// the optional sinks. Ingestion and persistence failures are returned; sink
// failures are logged.
func (a *App) Sync(ctx context.Context) (catalog.RunSummary, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return catalog.RunSummary{}, err
	}
	a.tracker.Start(runID)
	stop := a.startServer(ctx)
	defer stop()

	summary, err := a.sync(ctx, runID)
	a.tracker.Finish(summary, err)
	return summary, err
}

func (a *App) sync(ctx context.Context, runID string) (catalog.RunSummary, error) {
	log := a.logger.With(zap.String("run_id", runID))
	summary := catalog.RunSummary{RunID: runID, StartedAt: a.clock.Now().UnixMilli()}

	rows, err := a.ingester.Rows(ctx)
	if err != nil {
		return summary, err
	}

	existing, err := a.snapshot.Load()
	if err != nil {
		return summary, err
	}
	store := catalog.NewStore(existing)
	a.current.Store(store)
	log.Info("catalog loaded", zap.Int("rows", len(rows)), zap.Int("existing", store.Len()))

	a.tracker.SetPhase(api.PhaseResolving)
	summary = a.scheduler.Run(ctx, store, rows, runID)

	a.tracker.SetPhase(api.PhasePersisting)
	records := store.Snapshot()
	if err := a.snapshot.Save(records); err != nil {
		return summary, err
	}
	log.Info("snapshot saved", zap.String("path", a.snapshot.Path()), zap.Int("records", len(records)))

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run interrupted: %w", err)
	}

	a.tracker.SetPhase(api.PhaseMirroring)
	a.fanOut(ctx, log, records, summary)

	log.Info("catalog sync finished",
		zap.Int("rows_seen", summary.RowsSeen),
		zap.Int("resolved", summary.Resolved),
		zap.Int("failed", summary.Failed),
		zap.Int("merged", summary.Merged),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("rechecked", summary.Rechecked),
		zap.Int("recheck_failed", summary.RecheckFailed),
		zap.Int("catalog_size", summary.CatalogSize),
	)
	a.printSummary(summary)
	return summary, nil
}

func (a *App) fanOut(ctx context.Context, log *zap.Logger, records []catalog.ProductRecord, summary catalog.RunSummary) {
	for _, m := range a.mirrors {
		if err := m.mirror.SyncCatalog(ctx, records, summary); err != nil {
			log.Warn("catalog mirror failed", zap.String("mirror", m.name), zap.Error(err))
			continue
		}
		log.Info("catalog mirrored", zap.String("mirror", m.name))
	}
	if a.publisher != nil {
		id, err := a.publisher.Publish(ctx, a.cfg.Notify.TopicName, summary)
		if err != nil {
			log.Warn("publish run summary failed", zap.String("topic", a.cfg.Notify.TopicName), zap.Error(err))
		} else {
			log.Info("run summary published", zap.String("message_id", id))
		}
	}
	if url := a.cfg.Metrics.PushgatewayURL; url != "" {
		if err := a.metrics.Push(ctx, url, a.cfg.Metrics.Job, summary.RunID); err != nil {
			log.Warn("metrics push failed", zap.Error(err))
		}
	}
}

func (a *App) printSummary(summary catalog.RunSummary) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		a.logger.Warn("print summary", zap.Error(err))
	}
}

// Resolve runs the resolver tiers against a single URL.
func (a *App) Resolve(ctx context.Context, rawURL string) (ResolveResult, error) {
	res, err := a.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{ID: res.ID, Tier: res.Tier, CanonicalURL: a.scheme.CanonicalURL(res.ID)}, nil
}

// startServer serves the status endpoints while a run is in progress. The
// returned func stops the server and waits for it to exit.
func (a *App) startServer(ctx context.Context) func() {
	if !a.cfg.Server.Enabled {
		return func() {}
	}
	srv := api.NewServer(a.tracker, a.lookup, a.metrics, api.Config{
		Addr:   a.cfg.Addr(),
		APIKey: a.cfg.Server.APIKey,
	}, a.logger.Named("api"))
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(ctx); err != nil {
			a.logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *App) lookup(id catalog.ProductID) (catalog.ProductRecord, bool) {
	store := a.current.Load()
	if store == nil {
		return catalog.ProductRecord{}, false
	}
	return store.Get(id)
}

// Close releases every connection and browser process opened by New, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
