package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/extract"
	"github.com/JakeFAU/linkcapture/internal/extract/provider"
	"github.com/JakeFAU/linkcapture/internal/fetcher/bounded"
	"github.com/JakeFAU/linkcapture/internal/metrics"
	"github.com/JakeFAU/linkcapture/internal/storage"
)

// Preview fetches rawURL and summarizes it. Recognised video providers are
// answered from their oEmbed data when it is complete; otherwise the page
// is scraped and the provider data fills in first.
func (s *Service) Preview(ctx context.Context, rawURL string) (capture.PreviewResult, error) {
	target, err := s.validate(strings.TrimSpace(rawURL))
	if err != nil {
		return capture.PreviewResult{}, err
	}

	var fast capture.PreviewResult
	if video, ok := provider.Detect(target.URL); ok && s.deps.Embeds != nil {
		embed, err := s.deps.Embeds.Lookup(ctx, video)
		if err != nil {
			s.log.Debug("oembed lookup failed", zap.String("provider", string(video.Provider)), zap.Error(err))
		}
		fast = provider.Preview(video, embed, target.String())
		fast.Description = extract.Truncate(fast.Description, s.cfg.DescriptionLimit)
		if fast.Title != "" && fast.Description != "" {
			return fast, nil
		}
	}

	scraped, err := s.scrape(ctx, target)
	if err != nil {
		if fast.Title != "" {
			s.log.Debug("scrape failed, using provider data", zap.Error(err))
			return extract.Merge(fast, capture.PreviewResult{}, s.cfg.MaxImages), nil
		}
		return capture.PreviewResult{}, err
	}
	if len(fast.Images) > 0 || fast.Title != "" {
		return extract.Merge(fast, scraped, s.cfg.MaxImages), nil
	}
	return scraped, nil
}

func (s *Service) scrape(ctx context.Context, target capture.FetchTarget) (capture.PreviewResult, error) {
	res, err := s.deps.Fetcher.Fetch(ctx, target, bounded.Options{
		Kind:     "page",
		MaxBytes: s.cfg.PageMaxBytes,
		Timeout:  s.cfg.PageTimeout,
		Accept:   "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8",
	})
	if err != nil {
		return capture.PreviewResult{}, bounded.AsCaptureError(err)
	}
	s.archive(ctx, res)

	base := target.URL
	if res.Final.URL != nil {
		base = res.Final.URL
	}
	preview := s.deps.Extractor.Extract(string(res.Body), base)
	if s.deps.Detector != nil && s.HeadlessEnabled() && s.deps.Detector.ShouldRender(res.Body, preview) {
		if rendered, ok := s.render(ctx, target); ok {
			preview = extract.Merge(rendered, preview, s.cfg.MaxImages)
		}
	}
	preview.URL = target.String()
	return preview, nil
}

// render re-extracts from the headless DOM. Failures keep the static preview.
func (s *Service) render(ctx context.Context, target capture.FetchTarget) (capture.PreviewResult, bool) {
	page, err := s.deps.Renderer.Render(ctx, target)
	if err != nil {
		s.log.Debug("headless render failed", zap.String("host", target.Host), zap.Error(err))
		return capture.PreviewResult{}, false
	}
	final, err := s.deps.Validate(page.FinalURL)
	if err != nil {
		s.log.Warn("rendered page landed on a blocked url", zap.String("host", target.Host), zap.Error(err))
		return capture.PreviewResult{}, false
	}
	return s.deps.Extractor.Extract(page.HTML, final.URL), true
}

func (s *Service) archive(ctx context.Context, res bounded.Result) {
	if s.deps.Archive == nil {
		return
	}
	key := storage.SnapshotKey(s.cfg.ArchivePrefix, res.Final.Host, res.Body)
	if _, err := s.deps.Archive.Put(ctx, key, res.ContentType, res.Body); err != nil {
		metrics.ObserveSideEffectFailure("archive")
		s.log.Warn("archive snapshot failed", zap.String("key", key), zap.Error(err))
	}
}
