package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/fetcher/headless"
)

// Screenshot renders rawURL and returns the viewport as a JPEG data URI.
func (s *Service) Screenshot(ctx context.Context, rawURL string) (string, error) {
	if !s.HeadlessEnabled() {
		return "", fmt.Errorf("screenshot: %w", ErrNotConfigured)
	}
	target, err := s.validate(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	shot, err := s.deps.Renderer.Screenshot(ctx, target, s.cfg.Shot)
	if err != nil {
		if errors.Is(err, headless.ErrDisabled) {
			return "", fmt.Errorf("screenshot: %w", ErrNotConfigured)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", capture.UpstreamFailed(capture.FetchTimedOut, "screenshot timed out", err)
		}
		return "", capture.UpstreamFailed(capture.FetchTransport, "failed to capture screenshot", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(shot), nil
}

// Tags suggests tags for a link and returns them with the known vocabulary.
func (s *Service) Tags(ctx context.Context, title, url, description string) ([]string, []string, error) {
	if s.deps.Tagger == nil {
		return nil, nil, fmt.Errorf("tags: %w", ErrNotConfigured)
	}
	tags, err := s.deps.Tagger.Suggest(ctx, title, url, description)
	if err != nil {
		return nil, nil, err
	}
	return tags, s.deps.Tagger.Vocabulary(), nil
}

// Link returns the ledger row for a published slug.
func (s *Service) Link(ctx context.Context, slug string) (capture.LedgerEntry, error) {
	if s.deps.Links == nil {
		return capture.LedgerEntry{}, capture.ErrLinkNotFound
	}
	return s.deps.Links.BySlug(ctx, slug)
}

var (
	_ Renderer = (*headless.Renderer)(nil)
	_ Renderer = (*headless.Disabled)(nil)
)
