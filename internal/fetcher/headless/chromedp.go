// Package headless renders pages and captures screenshots with headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/urlsafety"
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	Validate          urlsafety.Func
}

// Page is a rendered document.
type Page struct {
	HTML       string
	FinalURL   string
	StatusCode int
}

// ShotOptions sizes a viewport screenshot.
type ShotOptions struct {
	Width   int64
	Height  int64
	Quality int64
}

// Renderer drives a shared Chrome allocator. Every request the browser makes,
// including redirects and subresources, passes the URL validator.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a renderer backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Validate == nil {
		cfg.Validate = urlsafety.Validate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("headless"),
	}, nil
}

// Close cancels the allocator context.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to target and returns the rendered DOM. The final URL is
// re-validated before the DOM is returned.
func (r *Renderer) Render(ctx context.Context, target capture.FetchTarget) (Page, error) {
	var (
		html     string
		finalURL string
	)
	meta := newResponseMeta()
	err := r.run(ctx, meta,
		chromedp.Navigate(target.String()),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.settleDelay()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Page{}, err
	}

	status, docURL := meta.snapshotWithFallbacks(target.String(), finalURL)
	if _, err := r.cfg.Validate(docURL); err != nil {
		return Page{}, fmt.Errorf("rendered url rejected: %w", err)
	}
	return Page{HTML: html, FinalURL: docURL, StatusCode: status}, nil
}

// Screenshot captures the viewport of target as JPEG.
func (r *Renderer) Screenshot(ctx context.Context, target capture.FetchTarget, opts ShotOptions) ([]byte, error) {
	if opts.Width <= 0 {
		opts.Width = 1200
	}
	if opts.Height <= 0 {
		opts.Height = 630
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}

	var (
		shot     []byte
		finalURL string
	)
	err := r.run(ctx, newResponseMeta(),
		chromedp.EmulateViewport(opts.Width, opts.Height),
		chromedp.Navigate(target.String()),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.settleDelay()),
		chromedp.Location(&finalURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(opts.Quality).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("capture screenshot: %w", err)
			}
			shot = buf
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	if _, err := r.cfg.Validate(finalURL); err != nil {
		return nil, fmt.Errorf("rendered url rejected: %w", err)
	}
	return shot, nil
}

func (r *Renderer) run(ctx context.Context, meta *responseMeta, actions ...chromedp.Action) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()

	// Stop when the caller goes away; the task context is rooted in the allocator.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	chromedp.ListenTarget(taskCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			meta.capture(e)
		case *fetch.EventRequestPaused:
			go r.decide(taskCtx, e)
		}
	})

	all := append([]chromedp.Action{r.setupAction()}, actions...)
	if err := chromedp.Run(taskCtx, all...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (r *Renderer) decide(ctx context.Context, ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(ctx, c.Target)

	if !allowRequest(r.cfg.Validate, ev.Request.URL) {
		r.logger.Debug("blocked browser request", zap.String("resource", string(ev.ResourceType)))
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
			r.logger.Debug("fail request", zap.Error(err))
		}
		return
	}
	if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
		r.logger.Debug("continue request", zap.Error(err))
	}
}

// allowRequest admits inline data and blob URLs and anything that passes validate.
func allowRequest(validate urlsafety.Func, rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") {
		return true
	}
	_, err := validate(rawURL)
	return err == nil
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := fetch.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable request interception: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func (r *Renderer) settleDelay() time.Duration {
	if r.cfg.SettleDelay > 0 {
		return r.cfg.SettleDelay
	}
	return time.Second
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
