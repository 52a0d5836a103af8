// Package bounded implements a single-shot colly fetch with a hard time
// budget, a streaming byte ceiling and redirect re-validation.
package bounded

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/metrics"
	"github.com/JakeFAU/linkcapture/internal/policy/ratelimit"
	"github.com/JakeFAU/linkcapture/internal/urlsafety"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBytes     = 5 << 20
	defaultMaxRedirects = 5
)

// Config controls the shared fetch client.
type Config struct {
	UserAgent    string
	MaxRedirects int
	// ResolveIPs dials through urlsafety.SafeDialContext so hostnames that
	// resolve to non-public addresses are refused at connect time.
	ResolveIPs bool
	Validate   urlsafety.Func
	Pacer      *ratelimit.Pacer
	// Transport overrides the dialing transport (tests).
	Transport http.RoundTripper
}

// Options bound one fetch.
type Options struct {
	Kind                    string
	MaxBytes                int64
	Timeout                 time.Duration
	ExpectContentTypePrefix string
	Accept                  string
}

// Result is a completed fetch.
type Result struct {
	Body        []byte
	ContentType string
	StatusCode  int
	FinalURL    string
	Final       capture.FetchTarget
}

// Error is a classified fetch failure.
type Error struct {
	Reason     capture.FetchFailure
	StatusCode int
	URL        string
	Err        error
}

func (e *Error) Error() string {
	switch e.Reason {
	case capture.FetchBadStatus:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case capture.FetchTooLarge:
		return fmt.Sprintf("fetch %s: response exceeds size limit", e.URL)
	case capture.FetchTimedOut:
		return fmt.Sprintf("fetch %s: timed out", e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher performs bounded fetches of validated targets on a shared colly
// collector. Each fetch runs on a clone carrying its own callbacks, body
// ceiling and context.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	validate      urlsafety.Func
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	validate := cfg.Validate
	if validate == nil {
		validate = urlsafety.Validate
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport(cfg.ResolveIPs)
	}

	f := &Fetcher{cfg: cfg, validate: validate, logger: logger.Named("fetch")}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(transport)
	c.DisableCookies()
	// The per-fetch context carries the deadline.
	c.SetRequestTimeout(0)
	c.SetRedirectHandler(f.checkRedirect)

	f.baseCollector = c
	return f
}

type blockedRedirectError struct {
	err error
}

func (e *blockedRedirectError) Error() string { return "redirect blocked: " + e.err.Error() }
func (e *blockedRedirectError) Unwrap() error { return e.err }

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= f.cfg.MaxRedirects {
		return &blockedRedirectError{err: fmt.Errorf("stopped after %d redirects", len(via))}
	}
	if _, err := f.validate(req.URL.String()); err != nil {
		return &blockedRedirectError{err: err}
	}
	return nil
}

// fetchState collects what the collector callbacks observed.
type fetchState struct {
	result  Result
	aborted *Error
	done    bool
}

// Fetch retrieves target within opts. Redirect hops and the final URL are
// re-validated; the byte ceiling is enforced on the stream itself.
func (f *Fetcher) Fetch(ctx context.Context, target capture.FetchTarget, opts Options) (Result, error) {
	opts = withDefaults(opts)
	rawURL := target.String()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := f.cfg.Pacer.Wait(ctx, target.Host); err != nil {
		return Result{}, f.fail(opts, &Error{Reason: capture.FetchTimedOut, URL: rawURL, Err: err})
	}

	state := &fetchState{}
	collector := f.buildCollector(ctx, opts, state)

	err := collector.Visit(rawURL)
	if state.aborted != nil {
		return Result{}, f.fail(opts, state.aborted)
	}
	if err != nil {
		return Result{}, f.fail(opts, classify(ctx, rawURL, err))
	}
	if !state.done {
		return Result{}, f.fail(opts, &Error{Reason: capture.FetchTransport, URL: rawURL, Err: errors.New("no response")})
	}

	metrics.ObserveFetch(opts.Kind, "ok", len(state.result.Body))
	return state.result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, opts Options, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	// One byte past the ceiling tells an exact fit from an overflow.
	collector.MaxBodySize = int(opts.MaxBytes + 1)

	collector.OnRequest(func(r *colly.Request) {
		if opts.Accept != "" {
			r.Headers.Set("Accept", opts.Accept)
		}
	})

	// Headers are judged before any body byte is read.
	collector.OnResponseHeaders(func(r *colly.Response) {
		if fe := f.checkHeaders(r, opts); fe != nil {
			state.aborted = fe
			r.Request.Abort()
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		finalURL := r.Request.URL.String()
		final, err := f.validate(finalURL)
		if err != nil {
			state.aborted = &Error{Reason: capture.FetchBlockedRedirect, URL: finalURL, Err: err}
			return
		}
		if int64(len(r.Body)) > opts.MaxBytes {
			state.aborted = &Error{Reason: capture.FetchTooLarge, URL: finalURL}
			return
		}
		state.result = Result{
			Body:        append([]byte(nil), r.Body...),
			ContentType: r.Headers.Get("Content-Type"),
			StatusCode:  r.StatusCode,
			FinalURL:    finalURL,
			Final:       final,
		}
		state.done = true
	})

	return collector
}

// checkHeaders rejects a response from its status line and headers alone.
func (f *Fetcher) checkHeaders(r *colly.Response, opts Options) *Error {
	finalURL := r.Request.URL.String()
	if _, err := f.validate(finalURL); err != nil {
		return &Error{Reason: capture.FetchBlockedRedirect, URL: finalURL, Err: err}
	}
	if r.StatusCode < 200 || r.StatusCode > 299 {
		return &Error{Reason: capture.FetchBadStatus, StatusCode: r.StatusCode, URL: finalURL}
	}
	contentType := r.Headers.Get("Content-Type")
	if opts.ExpectContentTypePrefix != "" &&
		!strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), opts.ExpectContentTypePrefix) {
		return &Error{
			Reason: capture.FetchContentTypeMismatch,
			URL:    finalURL,
			Err:    fmt.Errorf("content type %q", contentType),
		}
	}
	if n, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64); err == nil && n > opts.MaxBytes {
		return &Error{Reason: capture.FetchTooLarge, URL: finalURL}
	}
	return nil
}

func (f *Fetcher) fail(opts Options, err *Error) error {
	metrics.ObserveFetch(opts.Kind, string(err.Reason), 0)
	f.logger.Debug("fetch failed",
		zap.String("kind", opts.Kind),
		zap.String("reason", string(err.Reason)),
		zap.String("host", metrics.SanitizeHost(err.URL)),
		zap.Int("status", err.StatusCode),
	)
	return err
}

func classify(ctx context.Context, rawURL string, err error) *Error {
	var blocked *blockedRedirectError
	if errors.As(err, &blocked) {
		return &Error{Reason: capture.FetchBlockedRedirect, URL: rawURL, Err: blocked.err}
	}
	var rejected *urlsafety.RejectedError
	if errors.As(err, &rejected) {
		return &Error{Reason: capture.FetchBlockedRedirect, URL: rawURL, Err: rejected}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Reason: capture.FetchTimedOut, URL: rawURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Reason: capture.FetchTimedOut, URL: rawURL, Err: err}
	}
	return &Error{Reason: capture.FetchTransport, URL: rawURL, Err: err}
}

func withDefaults(opts Options) Options {
	if opts.Kind == "" {
		opts.Kind = "page"
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	opts.ExpectContentTypePrefix = strings.ToLower(opts.ExpectContentTypePrefix)
	return opts
}

func newHTTPTransport(resolveIPs bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	t := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
	}
	if resolveIPs {
		t.DialContext = urlsafety.SafeDialContext(dialer, nil)
	}
	return t
}

// AsCaptureError translates a fetch failure into the caller-facing taxonomy.
func AsCaptureError(err error) *capture.Error {
	var fe *Error
	if !errors.As(err, &fe) {
		return capture.UpstreamFailed(capture.FetchTransport, "failed to fetch url", err)
	}
	msg := "failed to fetch url"
	switch fe.Reason {
	case capture.FetchTimedOut:
		msg = "request timed out"
	case capture.FetchTooLarge:
		msg = "response too large"
	case capture.FetchBadStatus:
		msg = fmt.Sprintf("failed to fetch url: %d", fe.StatusCode)
	case capture.FetchContentTypeMismatch:
		msg = "unexpected content type"
	case capture.FetchBlockedRedirect:
		msg = "redirect target not allowed"
	}
	return capture.UpstreamFailed(fe.Reason, msg, err)
}
