package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/fetcher/bounded"
	"github.com/JakeFAU/linkcapture/internal/media"
	"github.com/JakeFAU/linkcapture/internal/metrics"
	"github.com/JakeFAU/linkcapture/internal/record"
)

// SaveResult describes a published link.
type SaveResult struct {
	Slug      string
	CommitSHA string
	Branch    string
	Image     string
}

// Save assembles the record for sub, commits it together with its image and
// then records the publish in the ledger and announces it. An image that
// cannot be loaded is dropped; the link is still saved.
func (s *Service) Save(ctx context.Context, sub capture.Submission) (SaveResult, error) {
	var img *media.Image
	if src := strings.TrimSpace(sub.Image); src != "" {
		loaded, err := s.loadImage(ctx, src)
		if err != nil {
			s.log.Warn("image dropped", zap.Error(err))
		} else {
			img = &loaded
		}
	}

	ext := ""
	if img != nil {
		ext = img.Ext
	}
	rec, err := s.deps.Assembler.Assemble(sub, ext)
	if err != nil {
		return SaveResult{}, err
	}

	files := make([]capture.CommitFile, 0, 2)
	if img != nil {
		files = append(files, capture.NewBinaryFile(rec.ImagePath, img.Data))
	}
	files = append(files, capture.NewTextFile(rec.DocumentPath, rec.Document))

	res, err := s.deps.Publisher.Publish(ctx, files, record.CommitMessage(strings.TrimSpace(sub.Title)))
	if err != nil {
		return SaveResult{}, err
	}

	s.afterPublish(ctx, sub, rec, res, files)
	return SaveResult{
		Slug:      rec.Slug,
		CommitSHA: res.CommitSHA,
		Branch:    res.Branch,
		Image:     rec.ImagePublicPath,
	}, nil
}

func (s *Service) loadImage(ctx context.Context, src string) (media.Image, error) {
	var data []byte
	if media.IsDataURI(src) {
		decoded, err := media.DecodeDataURI(src, s.cfg.ImageMaxBytes)
		if err != nil {
			return media.Image{}, err
		}
		data = decoded
	} else {
		target, err := s.validate(src)
		if err != nil {
			return media.Image{}, err
		}
		res, err := s.deps.Fetcher.Fetch(ctx, target, bounded.Options{
			Kind:                    "image",
			MaxBytes:                s.cfg.ImageMaxBytes,
			Timeout:                 s.cfg.ImageTimeout,
			ExpectContentTypePrefix: "image/",
			Accept:                  "image/*",
		})
		if err != nil {
			return media.Image{}, fmt.Errorf("fetch image: %w", err)
		}
		data = res.Body
	}
	return media.Sniff(data)
}

// afterPublish runs the best-effort side effects of a committed publish.
// They never fail the request and are not cancelled by the caller leaving.
func (s *Service) afterPublish(ctx context.Context, sub capture.Submission, rec capture.Record, res capture.CommitResult, files []capture.CommitFile) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SideEffectTimeout)
	defer cancel()

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path()
	}

	if s.deps.Ledger != nil {
		entry := capture.LedgerEntry{
			Slug:      rec.Slug,
			URL:       strings.TrimSpace(sub.URL),
			Title:     strings.TrimSpace(sub.Title),
			CommitSHA: res.CommitSHA,
			Branch:    res.Branch,
			Files:     paths,
			CreatedAt: rec.CreatedAt,
		}
		err := s.ledgerID(&entry)
		if err == nil {
			err = s.deps.Ledger.Record(ctx, entry)
		}
		if err != nil {
			metrics.ObserveSideEffectFailure("ledger")
			s.log.Warn("ledger write failed", zap.String("slug", rec.Slug), zap.Error(err))
		}
	}

	if s.deps.Notifier != nil {
		id, err := s.deps.Notifier.Notify(ctx, capture.PublishedEvent{
			Slug:      rec.Slug,
			URL:       strings.TrimSpace(sub.URL),
			Title:     strings.TrimSpace(sub.Title),
			Tags:      record.NormalizeTags(sub.Tags),
			CommitSHA: res.CommitSHA,
			Branch:    res.Branch,
			CreatedAt: rec.CreatedAt,
		})
		if err != nil {
			metrics.ObserveSideEffectFailure("notify")
			s.log.Warn("publish notification failed", zap.String("slug", rec.Slug), zap.Error(err))
		} else {
			s.log.Debug("publish notified", zap.String("slug", rec.Slug), zap.String("message_id", id))
		}
	}
}

func (s *Service) ledgerID(entry *capture.LedgerEntry) error {
	if s.deps.IDs == nil {
		entry.ID = entry.Slug
		return nil
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return fmt.Errorf("generate ledger id: %w", err)
	}
	entry.ID = id
	return nil
}
