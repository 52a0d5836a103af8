// Package extract turns a fetched HTML document into a link preview.
package extract

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/urlsafety"
)

const (
	defaultMaxImages        = 12
	defaultDescriptionLimit = 300
	ellipsis                = "…"
)

// Signals are the raw metadata values a parser found in a document. Values
// are entity-decoded but otherwise untrimmed; PageImages keep document order.
type Signals struct {
	OGTitle            string
	TwitterTitle       string
	DocumentTitle      string
	OGDescription      string
	TwitterDescription string
	MetaDescription    string
	OGImage            string
	TwitterImage       string
	PageImages         []string
}

// Parser reads Signals out of an HTML document.
type Parser interface {
	Parse(html string) Signals
}

// Config tunes extraction limits.
type Config struct {
	MaxImages        int
	DescriptionLimit int
	// Validate drops image candidates that point at blocked hosts. It
	// defaults to urlsafety.Check, which leaves rejection metrics alone.
	Validate urlsafety.Func
}

// Extractor applies the title, description and image priority chains to
// whatever a Parser produced.
type Extractor struct {
	parser Parser
	cfg    Config
}

// New creates an Extractor. A nil parser means the lenient parser.
func New(parser Parser, cfg Config) *Extractor {
	if parser == nil {
		parser = Lenient{}
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = defaultMaxImages
	}
	if cfg.DescriptionLimit <= 0 {
		cfg.DescriptionLimit = defaultDescriptionLimit
	}
	if cfg.Validate == nil {
		cfg.Validate = urlsafety.Check
	}
	return &Extractor{parser: parser, cfg: cfg}
}

// Extract builds a preview of html as served from base. It never fails:
// missing fields come back empty.
func (e *Extractor) Extract(html string, base *url.URL) capture.PreviewResult {
	sig := e.parser.Parse(html)

	result := capture.PreviewResult{
		Title:       firstNonEmpty(sig.OGTitle, sig.TwitterTitle, sig.DocumentTitle),
		Description: Truncate(firstNonEmpty(sig.OGDescription, sig.TwitterDescription, sig.MetaDescription), e.cfg.DescriptionLimit),
		Images:      []string{},
	}
	if base != nil {
		result.URL = base.String()
	}

	images := newImageSet(e.cfg.MaxImages, e.cfg.Validate)
	images.add(sig.OGImage, base, false)
	if strings.TrimSpace(sig.TwitterImage) != strings.TrimSpace(sig.OGImage) {
		images.add(sig.TwitterImage, base, false)
	}
	for _, src := range sig.PageImages {
		if images.full() {
			break
		}
		images.add(src, base, true)
	}
	result.Images = images.list
	return result
}

// Merge fills the gaps in primary from fallback. Images from primary stay
// first; the merged list is deduplicated and capped at limit.
func Merge(primary, fallback capture.PreviewResult, limit int) capture.PreviewResult {
	if limit <= 0 {
		limit = defaultMaxImages
	}
	out := primary
	if strings.TrimSpace(out.Title) == "" {
		out.Title = fallback.Title
	}
	if strings.TrimSpace(out.Description) == "" {
		out.Description = fallback.Description
	}
	if out.URL == "" {
		out.URL = fallback.URL
	}

	seen := make(map[string]struct{}, len(primary.Images)+len(fallback.Images))
	images := make([]string, 0, limit)
	for _, list := range [][]string{primary.Images, fallback.Images} {
		for _, img := range list {
			if len(images) == limit {
				break
			}
			if _, dup := seen[img]; dup {
				continue
			}
			seen[img] = struct{}{}
			images = append(images, img)
		}
	}
	out.Images = images
	return out
}

// Truncate cuts s to at most limit characters and marks the cut with an ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:limit]), " \t\n") + ellipsis
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = collapseSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type imageSet struct {
	limit    int
	validate urlsafety.Func
	seen     map[string]struct{}
	list     []string
}

func newImageSet(limit int, validate urlsafety.Func) *imageSet {
	return &imageSet{limit: limit, validate: validate, seen: make(map[string]struct{}), list: []string{}}
}

func (s *imageSet) full() bool { return len(s.list) >= s.limit }

func (s *imageSet) add(raw string, base *url.URL, scanned bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || s.full() {
		return
	}
	if scanned && excludedImage(raw) {
		return
	}
	abs, ok := resolve(raw, base)
	if !ok {
		return
	}
	if _, dup := s.seen[abs]; dup {
		return
	}
	if _, err := s.validate(abs); err != nil {
		return
	}
	s.seen[abs] = struct{}{}
	s.list = append(s.list, abs)
}

var excludedFragments = []string{"tracking", "pixel", "1x1", "spacer", "favicon", "icon"}

// excludedImage filters page-scanned sources that are never useful previews.
func excludedImage(src string) bool {
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "data:") {
		return true
	}
	for _, frag := range excludedFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	path := lower
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(path, ".svg")
}

func resolve(raw string, base *url.URL) (string, bool) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	return ref.String(), true
}
