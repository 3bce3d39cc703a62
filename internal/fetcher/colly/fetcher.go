// Package collyfetcher implements catalog.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxRedirects = 5
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	// MaxRedirects bounds redirect hops per request; zero means the default of 5.
	MaxRedirects int
}

// Fetcher implements catalog.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Timeout and redirect policy live on the shared backend, so set them once here
	// instead of on every clone.
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(redirectLimit(cfg.MaxRedirects))

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly, following at most MaxRedirects redirects.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	var (
		result   catalog.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return catalog.FetchResponse{}, err
	}
	return result, nil
}

// Render satisfies catalog.Renderer without a browser: the fetched body stands in for
// the DOM snapshot. Settle is ignored. Statuses >= 400 are errors.
func (f *Fetcher) Render(ctx context.Context, request catalog.RenderRequest) (catalog.RenderedPage, error) {
	if request.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, request.Timeout)
		defer cancel()
	}
	resp, err := f.Fetch(ctx, catalog.FetchRequest{URL: request.URL})
	if err != nil {
		return catalog.RenderedPage{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return catalog.RenderedPage{}, fmt.Errorf("render %s: status %d", request.URL, resp.StatusCode)
	}
	return catalog.RenderedPage{
		URL:      request.URL,
		FinalURL: resp.URL,
		HTML:     string(resp.Body),
		Duration: resp.Duration,
	}, nil
}

func (f *Fetcher) buildCollector(
	request catalog.FetchRequest,
	start time.Time,
	result *catalog.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request catalog.FetchRequest,
	start time.Time,
	result *catalog.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if f.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
		}
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = catalog.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func redirectLimit(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
