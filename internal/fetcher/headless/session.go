// Package headless renders pages in a shared headless Chrome browser via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
)

const (
	defaultNavigationTimeout = 15 * time.Second
	defaultMaxTabs           = 6
)

// DefaultBlockedURLPatterns are sub-request substrings blocked in every tab.
var DefaultBlockedURLPatterns = []string{"install", "app-redirect", "umeng", "byteoversea", "gtm", "analytics"}

// ErrClosed is returned by Render after Close.
var ErrClosed = errors.New("headless session closed")

// Pacer delays a navigation to rawURL; *ratelimit.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the shared browsing session.
type Config struct {
	MaxTabs            int
	UserAgent          string
	AcceptLanguage     string
	NavigationTimeout  time.Duration
	BlockedURLPatterns []string
	// ExecPath overrides the Chrome binary; empty uses chromedp's lookup.
	ExecPath string
}

// Session owns one browser process for the lifetime of a run. Each Render opens an
// isolated tab in that browser; at most MaxTabs tabs are open at once.
type Session struct {
	cfg    Config
	tabs   chan struct{}
	pacer  Pacer
	logger *zap.Logger

	mu            sync.Mutex
	closed        bool
	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc
}

// NewSession validates cfg and returns a session. The browser starts on first use.
func NewSession(cfg Config, pacer Pacer, logger *zap.Logger) (*Session, error) {
	if cfg.MaxTabs < 0 {
		return nil, fmt.Errorf("max tabs must be >= 0")
	}
	if cfg.MaxTabs == 0 {
		cfg.MaxTabs = defaultMaxTabs
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.BlockedURLPatterns == nil {
		cfg.BlockedURLPatterns = DefaultBlockedURLPatterns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:    cfg,
		tabs:   make(chan struct{}, cfg.MaxTabs),
		pacer:  pacer,
		logger: logger,
	}, nil
}

// Render navigates to request.URL in a fresh tab and returns the DOM snapshot.
func (s *Session) Render(ctx context.Context, request catalog.RenderRequest) (catalog.RenderedPage, error) {
	if err := s.acquire(ctx); err != nil {
		return catalog.RenderedPage{}, err
	}
	defer s.release()

	if s.pacer != nil {
		if err := s.pacer.Wait(ctx, request.URL); err != nil {
			return catalog.RenderedPage{}, err
		}
	}

	browser, err := s.ensureBrowser()
	if err != nil {
		return catalog.RenderedPage{}, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browser)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	timeout := request.Timeout
	if timeout <= 0 {
		timeout = s.cfg.NavigationTimeout
	}
	tabCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	var html, finalURL string
	start := time.Now()
	actions := []chromedp.Action{
		s.tabSetupAction(),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if request.Settle > 0 {
		actions = append(actions, chromedp.Sleep(request.Settle))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return catalog.RenderedPage{}, fmt.Errorf("render %s: %w", request.URL, ctxErr)
		}
		if errors.Is(tabCtx.Err(), context.DeadlineExceeded) {
			return catalog.RenderedPage{}, fmt.Errorf("render %s: %w", request.URL, context.DeadlineExceeded)
		}
		return catalog.RenderedPage{}, fmt.Errorf("render %s: %w", request.URL, err)
	}
	if finalURL == "" {
		finalURL = request.URL
	}
	return catalog.RenderedPage{
		URL:      request.URL,
		FinalURL: finalURL,
		HTML:     html,
		Duration: time.Since(start),
	}, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

func (s *Session) ensureBrowser() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.browser != nil {
		return s.browser, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if s.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.cfg.UserAgent))
	}
	if s.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// Running with no actions launches the browser and its first target.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	s.logger.Info("headless browser started", zap.Int("max_tabs", s.cfg.MaxTabs))
	s.allocCancel = allocCancel
	s.browser = browserCtx
	s.browserCancel = browserCancel
	return browserCtx, nil
}

func (s *Session) tabSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if blocked := blockedURLs(s.cfg.BlockedURLPatterns); len(blocked) > 0 {
			if err := network.SetBlockedURLs(blocked).Do(ctx); err != nil {
				return fmt.Errorf("set blocked urls: %w", err)
			}
		}
		if s.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(s.cfg.UserAgent)
			if s.cfg.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(s.cfg.AcceptLanguage)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if s.cfg.AcceptLanguage != "" {
			headers := network.Headers{"Accept-Language": s.cfg.AcceptLanguage}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless tab wait canceled: %w", ctx.Err())
	}
}

func (s *Session) release() {
	select {
	case <-s.tabs:
	default:
	}
}

// blockedURLs turns substrings into the wildcard form the DevTools protocol expects.
func blockedURLs(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "*") {
			p = "*" + p + "*"
		}
		out = append(out, p)
	}
	return out
}
