package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
	collyfetcher "github.com/JakeFAU/affiliate-catalog/internal/fetcher/colly"
	"github.com/JakeFAU/affiliate-catalog/internal/metrics"
)

const testID = catalog.ProductID("601099512345678")

type countingFetcher struct {
	calls atomic.Int32
	resp  catalog.FetchResponse
	err   error
}

func (f *countingFetcher) Fetch(context.Context, catalog.FetchRequest) (catalog.FetchResponse, error) {
	f.calls.Add(1)
	return f.resp, f.err
}

type countingRenderer struct {
	calls atomic.Int32
	page  catalog.RenderedPage
	err   error
	block bool
}

func (r *countingRenderer) Render(ctx context.Context, req catalog.RenderRequest) (catalog.RenderedPage, error) {
	r.calls.Add(1)
	if r.block {
		<-ctx.Done()
		return catalog.RenderedPage{}, ctx.Err()
	}
	page := r.page
	page.URL = req.URL
	return page, r.err
}

func newTestResolver(f catalog.Fetcher, r catalog.Renderer) *Resolver {
	tiers := DefaultTiers(catalog.MustURLScheme(), f, r, time.Second, time.Second)
	return New(tiers, nil, metrics.New())
}

func TestResolveCanonicalURLUsesNoIO(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{}
	r := &countingRenderer{}
	res, err := newTestResolver(f, r).Resolve(context.Background(),
		"https://www.temu.com/goods.html?goods_id=601099512345678&refer=x")
	require.NoError(t, err)
	require.Equal(t, testID, res.ID)
	require.Equal(t, TierDirect, res.Tier)
	require.Zero(t, f.calls.Load())
	require.Zero(t, r.calls.Load())
}

func TestResolveRedirectingURLStopsAtHTTPTier(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/k/abc", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landing?goods_id=601099512345678", http.StatusFound)
	})
	mux.HandleFunc("/landing", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>redirect target</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := &countingRenderer{}
	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: time.Second})
	res, err := newTestResolver(fetcher, r).Resolve(context.Background(), srv.URL+"/k/abc")
	require.NoError(t, err)
	require.Equal(t, testID, res.ID)
	require.Equal(t, TierHTTP, res.Tier)
	require.Zero(t, r.calls.Load())
}

func TestResolveHTTPTierScansBody(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{resp: catalog.FetchResponse{
		URL:        "https://temu.to/k/abc",
		StatusCode: http.StatusOK,
		Body:       []byte(`<link rel="canonical" href="https://www.temu.com/goods.html?goods_id=601099512345678">`),
	}}
	r := &countingRenderer{}
	res, err := newTestResolver(f, r).Resolve(context.Background(), "https://temu.to/k/abc")
	require.NoError(t, err)
	require.Equal(t, TierHTTP, res.Tier)
	require.Zero(t, r.calls.Load())
}

func TestResolveOpaqueURLFallsThroughToRender(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{resp: catalog.FetchResponse{
		URL:        "https://temu.to/k/opaque",
		StatusCode: http.StatusOK,
		Body:       []byte(`<script>location.href = atob("...")</script>`),
	}}
	r := &countingRenderer{page: catalog.RenderedPage{
		FinalURL: "https://www.temu.com/goods.html?goods_id=601099512345678",
	}}
	res, err := newTestResolver(f, r).Resolve(context.Background(), "https://temu.to/k/opaque")
	require.NoError(t, err)
	require.Equal(t, TierRender, res.Tier)
	require.Equal(t, int32(1), f.calls.Load())
	require.Equal(t, int32(1), r.calls.Load())
}

func TestResolveErrorsDemoteToNextTier(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{err: errors.New("connection reset")}
	r := &countingRenderer{page: catalog.RenderedPage{HTML: `<a href="?goods_id=601099512345678">`}}
	res, err := newTestResolver(f, r).Resolve(context.Background(), "https://temu.to/k/x")
	require.NoError(t, err)
	require.Equal(t, TierRender, res.Tier)
}

func TestResolveHTTPErrorStatusDemotes(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{resp: catalog.FetchResponse{
		URL:        "https://temu.to/k/x",
		StatusCode: http.StatusForbidden,
		Body:       []byte("goods_id=601099512345678"),
	}}
	r := &countingRenderer{}
	_, err := newTestResolver(f, r).Resolve(context.Background(), "https://temu.to/k/x")
	require.ErrorIs(t, err, catalog.ErrUnresolved)
	require.Equal(t, int32(1), r.calls.Load())
}

func TestResolveTierTimeoutDemotes(t *testing.T) {
	t.Parallel()

	r := &countingRenderer{block: true}
	tiers := []Tier{
		{Strategy: RenderScan{Scheme: catalog.MustURLScheme(), Renderer: r}, Timeout: 20 * time.Millisecond},
		{Strategy: staticStrategy{id: testID}},
	}
	res, err := New(tiers, nil, nil).Resolve(context.Background(), "https://temu.to/k/x")
	require.NoError(t, err)
	require.Equal(t, "static", res.Tier)
}

func TestResolveExhaustedTiersIsUnresolved(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{resp: catalog.FetchResponse{StatusCode: http.StatusOK, Body: []byte("nothing")}}
	r := &countingRenderer{page: catalog.RenderedPage{HTML: "<html></html>"}}
	_, err := newTestResolver(f, r).Resolve(context.Background(), "https://example.com/promo")
	require.ErrorIs(t, err, catalog.ErrUnresolved)

	_, err = New(nil, nil, nil).Resolve(context.Background(), "https://example.com/promo")
	require.ErrorIs(t, err, catalog.ErrUnresolved)
}

func TestResolveCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestResolver(&countingFetcher{}, &countingRenderer{}).Resolve(ctx, "https://temu.to/k/x")
	require.ErrorIs(t, err, context.Canceled)
}

func TestDefaultTiersSkipsMissingBackends(t *testing.T) {
	t.Parallel()

	tiers := DefaultTiers(catalog.MustURLScheme(), nil, nil, time.Second, time.Second)
	require.Len(t, tiers, 1)
	require.Equal(t, TierDirect, tiers[0].Strategy.Name())
}

type staticStrategy struct{ id catalog.ProductID }

func (staticStrategy) Name() string { return "static" }

func (s staticStrategy) Attempt(context.Context, string) (catalog.ProductID, error) {
	return s.id, nil
}
