// Package scheduler runs the two catalog passes under a fixed concurrency bound:
// Pass A resolves and merges every source row, Pass B re-extracts the stalest records.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
	"github.com/JakeFAU/affiliate-catalog/internal/classify"
	"github.com/JakeFAU/affiliate-catalog/internal/metrics"
)

// Pass labels used in logs and metrics.
const (
	PassNew     = "new"
	PassRecheck = "recheck"
)

const defaultConcurrency = 6

// Config bounds the work done per run.
type Config struct {
	// Concurrency caps simultaneously in-flight operations.
	Concurrency int
	// RecheckCount is the number of existing records re-extracted in Pass B.
	RecheckCount int
	// OperationTimeout, when positive, bounds one whole operation.
	OperationTimeout time.Duration
}

// Scheduler composes resolver, extractor, classifier and store.
type Scheduler struct {
	cfg        Config
	resolver   catalog.Resolver
	extractor  catalog.Extractor
	scheme     *catalog.URLScheme
	categories []catalog.CategoryRule
	clock      catalog.Clock
	metrics    *metrics.Recorder
	logger     *zap.Logger
}

// Deps are the collaborators a Scheduler needs.
type Deps struct {
	Resolver   catalog.Resolver
	Extractor  catalog.Extractor
	Scheme     *catalog.URLScheme
	Categories []catalog.CategoryRule
	Clock      catalog.Clock
	Metrics    *metrics.Recorder
}

// New builds a Scheduler.
func New(cfg Config, deps Deps, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RecheckCount < 0 {
		cfg.RecheckCount = 0
	}
	if deps.Scheme == nil {
		deps.Scheme = catalog.MustURLScheme()
	}
	if deps.Clock == nil {
		deps.Clock = catalog.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		resolver:   deps.Resolver,
		extractor:  deps.Extractor,
		scheme:     deps.Scheme,
		categories: deps.Categories,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// run holds the state shared by the operations of one Run call.
type run struct {
	mu      sync.Mutex
	summary catalog.RunSummary
	claimed map[catalog.ProductID]struct{}
}

func (r *run) claim(id catalog.ProductID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.claimed[id]; ok {
		return false
	}
	r.claimed[id] = struct{}{}
	return true
}

func (r *run) count(fn func(*catalog.RunSummary)) {
	r.mu.Lock()
	fn(&r.summary)
	r.mu.Unlock()
}

// Run executes Pass A over rows, then Pass B over the store, and returns the counters.
// Per-item failures are counted and logged; they never stop a pass. A canceled ctx
// stops scheduling new operations.
func (s *Scheduler) Run(ctx context.Context, store *catalog.Store, rows []catalog.SourceRow, runID string) catalog.RunSummary {
	state := &run{claimed: make(map[catalog.ProductID]struct{})}
	state.summary.RunID = runID
	state.summary.StartedAt = s.clock.Now().UnixMilli()
	state.summary.RowsSeen = len(rows)
	s.metrics.AddRows(len(rows))

	s.each(ctx, len(rows), func(ctx context.Context, i int) {
		s.processRow(ctx, store, state, rows[i])
	})

	// Pass B selects only after Pass A has fully completed.
	stale := store.Oldest(s.cfg.RecheckCount, state.claimed)
	s.logger.Info("recheck selection",
		zap.String("run_id", runID),
		zap.Int("selected", len(stale)),
		zap.Int("catalog_size", store.Len()),
	)
	s.each(ctx, len(stale), func(ctx context.Context, i int) {
		s.recheck(ctx, store, state, stale[i])
	})

	state.summary.CatalogSize = store.Len()
	state.summary.FinishedAt = s.clock.Now().UnixMilli()
	s.metrics.SetCatalogSize(state.summary.CatalogSize)
	return state.summary
}

// each runs op for indices [0, n) with at most Concurrency running at once.
func (s *Scheduler) each(ctx context.Context, n int, op func(ctx context.Context, i int)) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.metrics.IncInFlight()
			defer s.metrics.DecInFlight()
			opCtx, cancel := s.operationContext(ctx)
			defer cancel()
			op(opCtx, i)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OperationTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Scheduler) processRow(ctx context.Context, store *catalog.Store, state *run, row catalog.SourceRow) {
	log := s.logger.With(zap.String("url", row.URL))

	res, err := s.resolver.Resolve(ctx, row.URL)
	if err != nil {
		state.count(func(sum *catalog.RunSummary) { sum.Failed++ })
		log.Warn("resolution failed", zap.Error(err))
		return
	}
	state.count(func(sum *catalog.RunSummary) { sum.Resolved++ })
	log = log.With(zap.String("id", string(res.ID)), zap.String("tier", res.Tier))

	if !state.claim(res.ID) {
		state.count(func(sum *catalog.RunSummary) { sum.Duplicates++ })
		log.Info("duplicate product id in source, skipping")
		return
	}

	md, ok := s.extract(ctx, PassNew, s.scheme.CanonicalURL(res.ID), log)
	if !ok {
		state.count(func(sum *catalog.RunSummary) { sum.Failed++ })
		return
	}

	outbound := s.scheme.OutboundURL(row.URL, res.ID)
	created := false
	rec := store.Apply(res.ID, func(existing *catalog.ProductRecord) catalog.ProductRecord {
		created = existing == nil
		title := md.Title
		if strings.TrimSpace(title) == "" && existing != nil {
			title = existing.Title
		}
		slug := classify.Classify(s.categories, title, row.PreferredCategory)
		return catalog.Merge(existing, md, res.ID, slug, outbound, s.clock.Now())
	})
	s.metrics.ObserveMerge(PassNew, created)
	state.count(func(sum *catalog.RunSummary) { sum.Merged++ })
	log.Info("product merged",
		zap.Bool("created", created),
		zap.String("category", rec.CategorySlug),
		zap.Bool("available", rec.Available),
	)
}

func (s *Scheduler) recheck(ctx context.Context, store *catalog.Store, state *run, stale catalog.ProductRecord) {
	log := s.logger.With(zap.String("id", string(stale.ID)))

	md, ok := s.extract(ctx, PassRecheck, s.scheme.CanonicalURL(stale.ID), log)
	if !ok {
		state.count(func(sum *catalog.RunSummary) { sum.RecheckFailed++ })
		return
	}
	rec := store.Apply(stale.ID, func(existing *catalog.ProductRecord) catalog.ProductRecord {
		title, preferred, outbound := md.Title, "", ""
		if existing != nil {
			if strings.TrimSpace(title) == "" {
				title = existing.Title
			}
			preferred = existing.CategorySlug
			outbound = existing.OutboundURL
		}
		slug := classify.Classify(s.categories, title, preferred)
		return catalog.Merge(existing, md, stale.ID, slug, outbound, s.clock.Now())
	})
	s.metrics.ObserveMerge(PassRecheck, false)
	state.count(func(sum *catalog.RunSummary) { sum.Rechecked++ })
	log.Info("product rechecked", zap.Bool("available", rec.Available), zap.Int("checks", rec.CheckCount))
}

func (s *Scheduler) extract(ctx context.Context, pass, canonicalURL string, log *zap.Logger) (catalog.Metadata, bool) {
	start := time.Now()
	md, err := s.extractor.Extract(ctx, canonicalURL)
	if err != nil {
		s.metrics.ObserveExtraction(pass, metrics.OutcomeFailure, time.Since(start))
		level := log.Warn
		if errors.Is(err, context.Canceled) {
			level = log.Debug
		}
		level("extraction failed", zap.String("pass", pass), zap.Error(err))
		return catalog.Metadata{}, false
	}
	s.metrics.ObserveExtraction(pass, metrics.OutcomeSuccess, time.Since(start))
	return md, true
}
