// Package service wires the capture pipeline together: preview, save,
// screenshot and tag suggestion, each called once per inbound request.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/extract"
	"github.com/JakeFAU/linkcapture/internal/extract/provider"
	"github.com/JakeFAU/linkcapture/internal/fetcher/bounded"
	"github.com/JakeFAU/linkcapture/internal/fetcher/headless"
	"github.com/JakeFAU/linkcapture/internal/record"
	"github.com/JakeFAU/linkcapture/internal/urlsafety"
)

// ErrNotConfigured is returned by optional operations whose backend is absent.
var ErrNotConfigured = errors.New("not configured")

// Fetcher is the bounded fetch of a validated target.
type Fetcher interface {
	Fetch(ctx context.Context, target capture.FetchTarget, opts bounded.Options) (bounded.Result, error)
}

// Renderer renders pages in a headless browser.
type Renderer interface {
	Render(ctx context.Context, target capture.FetchTarget) (headless.Page, error)
	Screenshot(ctx context.Context, target capture.FetchTarget, opts headless.ShotOptions) ([]byte, error)
}

// EmbedLookup fetches provider oEmbed data.
type EmbedLookup interface {
	Lookup(ctx context.Context, v provider.Video) (provider.Embed, error)
}

// ShellDetector decides whether a static preview should be re-extracted
// from a rendered DOM.
type ShellDetector interface {
	ShouldRender(body []byte, preview capture.PreviewResult) bool
}

// LinkFinder looks up published links by slug.
type LinkFinder interface {
	BySlug(ctx context.Context, slug string) (capture.LedgerEntry, error)
}

// Config bounds the work done per request.
type Config struct {
	PageMaxBytes     int64
	PageTimeout      time.Duration
	ImageMaxBytes    int64
	ImageTimeout     time.Duration
	MaxImages        int
	DescriptionLimit int
	ArchivePrefix    string
	Shot             headless.ShotOptions
	// SideEffectTimeout bounds the ledger write and the notification that
	// follow a successful publish.
	SideEffectTimeout time.Duration
}

// Deps are the collaborators of a Service. Embeds, Detector, Archive,
// Ledger, Links, Notifier, Tagger and IDs may be nil. A nil Renderer is
// replaced by headless.Disabled.
type Deps struct {
	Validate  urlsafety.Func
	Fetcher   Fetcher
	Extractor *extract.Extractor
	Embeds    EmbedLookup
	Renderer  Renderer
	Detector  ShellDetector
	Assembler *record.Assembler
	Publisher capture.Publisher
	Archive   capture.ArchiveStore
	Ledger    capture.Ledger
	Links     LinkFinder
	Notifier  capture.Notifier
	Tagger    capture.TagSuggester
	IDs       capture.IDGenerator
	Logger    *zap.Logger
}

// Service runs the capture operations.
type Service struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New validates deps and applies defaults to cfg.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if deps.Assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if deps.Validate == nil {
		deps.Validate = urlsafety.Validate
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New(nil, extract.Config{
			MaxImages:        cfg.MaxImages,
			DescriptionLimit: cfg.DescriptionLimit,
			Validate:         deps.Validate,
		})
	}
	if deps.Renderer == nil {
		deps.Renderer = headless.NewDisabled()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.PageMaxBytes <= 0 {
		cfg.PageMaxBytes = 5 << 20
	}
	if cfg.ImageMaxBytes <= 0 {
		cfg.ImageMaxBytes = 5 << 20
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 10 * time.Second
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 10 * time.Second
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 12
	}
	if cfg.DescriptionLimit <= 0 {
		cfg.DescriptionLimit = 300
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 5 * time.Second
	}
	return &Service{cfg: cfg, deps: deps, log: deps.Logger.Named("service")}, nil
}

// HeadlessEnabled reports whether screenshots can be taken.
func (s *Service) HeadlessEnabled() bool {
	switch s.deps.Renderer.(type) {
	case *headless.Disabled, headless.Disabled:
		return false
	}
	return true
}

// TagsEnabled reports whether tag suggestions are available.
func (s *Service) TagsEnabled() bool {
	return s.deps.Tagger != nil
}

func (s *Service) validate(rawURL string) (capture.FetchTarget, error) {
	if rawURL == "" {
		return capture.FetchTarget{}, capture.Rejected("url is required", nil)
	}
	target, err := s.deps.Validate(rawURL)
	if err != nil {
		var rej *urlsafety.RejectedError
		if errors.As(err, &rej) {
			return capture.FetchTarget{}, capture.Rejected(rej.Reason, err)
		}
		return capture.FetchTarget{}, capture.Rejected("invalid url", err)
	}
	return target, nil
}
