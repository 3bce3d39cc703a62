// Package postgres mirrors the catalog into Postgres for ad-hoc querying.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultProductsTable = "catalog_products"
	defaultRunsTable     = "catalog_runs"
)

// Config controls the Postgres connection pool and target tables.
type Config struct {
	DSN             string
	ProductsTable   string
	RunsTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// CatalogMirror upserts every record and appends a run row in one transaction.
type CatalogMirror struct {
	pool     txBeginner
	products string
	runs     string
}

// NewCatalogMirror connects a pool using cfg.
func NewCatalogMirror(ctx context.Context, cfg Config) (*CatalogMirror, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	mirror, err := NewCatalogMirrorWithPool(pool, cfg.ProductsTable, cfg.RunsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return mirror, nil
}

// NewCatalogMirrorWithPool constructs a mirror from an existing pool (primarily for testing).
func NewCatalogMirrorWithPool(pool txBeginner, productsTable, runsTable string) (*CatalogMirror, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if productsTable == "" {
		productsTable = defaultProductsTable
	}
	if runsTable == "" {
		runsTable = defaultRunsTable
	}
	for _, table := range []string{productsTable, runsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &CatalogMirror{pool: pool, products: productsTable, runs: runsTable}, nil
}

// Close releases the underlying pool resources.
func (m *CatalogMirror) Close() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.Close()
}

// SyncCatalog implements catalog.Mirror.
func (m *CatalogMirror) SyncCatalog(ctx context.Context, records []catalog.ProductRecord, summary catalog.RunSummary) error {
	if m == nil || m.pool == nil {
		return fmt.Errorf("catalog mirror is not configured")
	}
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := m.write(ctx, tx, records, summary); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (m *CatalogMirror) write(ctx context.Context, tx pgx.Tx, records []catalog.ProductRecord, summary catalog.RunSummary) error {
	upsert := fmt.Sprintf(`
INSERT INTO %s (
	id,
	title,
	slug,
	category,
	price,
	images,
	out_url,
	available,
	added_at,
	updated_at,
	checks,
	last_run_id
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	slug = EXCLUDED.slug,
	category = EXCLUDED.category,
	price = EXCLUDED.price,
	images = EXCLUDED.images,
	out_url = EXCLUDED.out_url,
	available = EXCLUDED.available,
	updated_at = EXCLUDED.updated_at,
	checks = EXCLUDED.checks,
	last_run_id = EXCLUDED.last_run_id`, m.products)

	for _, rec := range records {
		images := rec.Images
		if images == nil {
			images = []string{}
		}
		args := []any{
			string(rec.ID),
			rec.Title,
			rec.Slug,
			rec.CategorySlug,
			rec.Price,
			images,
			rec.OutboundURL,
			rec.Available,
			rec.Added(),
			rec.Updated(),
			rec.CheckCount,
			summary.RunID,
		}
		if _, err := tx.Exec(ctx, upsert, args...); err != nil {
			return fmt.Errorf("upsert product %s: %w", rec.ID, err)
		}
	}

	insertRun := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	started_at,
	finished_at,
	rows_seen,
	resolved,
	failed,
	merged,
	duplicates,
	rechecked,
	recheck_failed,
	catalog_size
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, m.runs)
	args := []any{
		summary.RunID,
		time.UnixMilli(summary.StartedAt).UTC(),
		time.UnixMilli(summary.FinishedAt).UTC(),
		summary.RowsSeen,
		summary.Resolved,
		summary.Failed,
		summary.Merged,
		summary.Duplicates,
		summary.Rechecked,
		summary.RecheckFailed,
		summary.CatalogSize,
	}
	if _, err := tx.Exec(ctx, insertRun, args...); err != nil {
		return fmt.Errorf("insert run %s: %w", summary.RunID, err)
	}
	return nil
}
