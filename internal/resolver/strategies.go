package resolver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
)

// Tier names reported in resolutions, logs and metrics.
const (
	TierDirect = "direct"
	TierHTTP   = "http"
	TierRender = "render"
)

// DirectMatch extracts the id from a URL that already has the canonical shape. No I/O.
type DirectMatch struct {
	Scheme *catalog.URLScheme
}

// Name implements Strategy.
func (DirectMatch) Name() string { return TierDirect }

// Attempt implements Strategy.
func (d DirectMatch) Attempt(_ context.Context, rawURL string) (catalog.ProductID, error) {
	if !d.Scheme.IsCanonical(rawURL) {
		return "", ErrNoMatch
	}
	if id, ok := d.Scheme.FindID(rawURL); ok {
		return id, nil
	}
	return "", ErrNoMatch
}

// HTTPScan follows redirects with a plain HTTP client and scans the final URL and
// body for the id pattern. Scripts are not executed.
type HTTPScan struct {
	Scheme  *catalog.URLScheme
	Fetcher catalog.Fetcher
}

// Name implements Strategy.
func (HTTPScan) Name() string { return TierHTTP }

// Attempt implements Strategy.
func (h HTTPScan) Attempt(ctx context.Context, rawURL string) (catalog.ProductID, error) {
	resp, err := h.Fetcher.Fetch(ctx, catalog.FetchRequest{URL: rawURL})
	if err != nil {
		return "", err
	}
	if id, ok := h.Scheme.FindID(resp.URL); ok {
		return id, nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if id, ok := h.Scheme.FindID(string(resp.Body)); ok {
		return id, nil
	}
	return "", ErrNoMatch
}

// RenderScan loads the URL in the shared browsing session and scans the final
// location and rendered document for the id pattern.
type RenderScan struct {
	Scheme   *catalog.URLScheme
	Renderer catalog.Renderer
	Settle   time.Duration
}

// Name implements Strategy.
func (RenderScan) Name() string { return TierRender }

// Attempt implements Strategy.
func (r RenderScan) Attempt(ctx context.Context, rawURL string) (catalog.ProductID, error) {
	page, err := r.Renderer.Render(ctx, catalog.RenderRequest{URL: rawURL, Settle: r.Settle})
	if err != nil {
		return "", err
	}
	if id, ok := r.Scheme.FindID(page.FinalURL); ok {
		return id, nil
	}
	if id, ok := r.Scheme.FindID(page.HTML); ok {
		return id, nil
	}
	return "", ErrNoMatch
}

// DefaultTiers wires the three standard tiers in cheapest-first order.
func DefaultTiers(
	scheme *catalog.URLScheme,
	fetcher catalog.Fetcher,
	renderer catalog.Renderer,
	httpTimeout, renderTimeout time.Duration,
) []Tier {
	tiers := []Tier{{Strategy: DirectMatch{Scheme: scheme}}}
	if fetcher != nil {
		tiers = append(tiers, Tier{Strategy: HTTPScan{Scheme: scheme, Fetcher: fetcher}, Timeout: httpTimeout})
	}
	if renderer != nil {
		tiers = append(tiers, Tier{Strategy: RenderScan{Scheme: scheme, Renderer: renderer}, Timeout: renderTimeout})
	}
	return tiers
}
