// Package extract loads product pages in the shared browsing session and reads
// their title, price, images and availability.
package extract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
)

// Config tunes page loading.
type Config struct {
	Timeout     time.Duration
	Settle      time.Duration
	ImageMarker string
}

// Extractor implements catalog.Extractor over a catalog.Renderer.
type Extractor struct {
	cfg      Config
	renderer catalog.Renderer
	logger   *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, renderer catalog.Renderer, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, renderer: renderer, logger: logger}
}

// Extract renders canonicalURL and parses its metadata. Load failures and timeouts
// are reported as catalog.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, canonicalURL string) (catalog.Metadata, error) {
	page, err := e.renderer.Render(ctx, catalog.RenderRequest{
		URL:     canonicalURL,
		Timeout: e.cfg.Timeout,
		Settle:  e.cfg.Settle,
	})
	if err != nil {
		return catalog.Metadata{}, fmt.Errorf("extract %s: %w: %w", canonicalURL, catalog.ErrExtraction, err)
	}
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = canonicalURL
	}
	signals, err := Parse(page.HTML, pageURL, e.cfg.ImageMarker)
	if err != nil {
		return catalog.Metadata{}, fmt.Errorf("extract %s: %w: %w", canonicalURL, catalog.ErrExtraction, err)
	}
	e.logger.Debug("extracted product page",
		zap.String("url", canonicalURL),
		zap.Bool("available", signals.Available()),
		zap.Bool("sold_out", signals.SoldOut),
		zap.Int("images", len(signals.Images)),
		zap.Duration("render", page.Duration),
	)
	return signals.Metadata(), nil
}
