package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/clock/fake"
	"github.com/JakeFAU/linkcapture/internal/extract/provider"
	"github.com/JakeFAU/linkcapture/internal/fetcher/bounded"
	"github.com/JakeFAU/linkcapture/internal/fetcher/headless"
	"github.com/JakeFAU/linkcapture/internal/headless/detector"
	"github.com/JakeFAU/linkcapture/internal/objectstore/memory"
	"github.com/JakeFAU/linkcapture/internal/publish"
	pubmemory "github.com/JakeFAU/linkcapture/internal/publisher/memory"
	"github.com/JakeFAU/linkcapture/internal/record"
	blobmemory "github.com/JakeFAU/linkcapture/internal/storage/memory"
	"github.com/JakeFAU/linkcapture/internal/urlsafety"
)

var testNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

// allowServer admits the loopback test server and defers to the real
// validator for everything else.
func allowServer(srv *httptest.Server) urlsafety.Func {
	return func(raw string) (capture.FetchTarget, error) {
		if srv != nil && strings.HasPrefix(raw, srv.URL) {
			u, err := url.Parse(raw)
			if err != nil {
				return capture.FetchTarget{}, err
			}
			return capture.FetchTarget{URL: u, Scheme: u.Scheme, Host: u.Hostname(), Class: capture.HostIPv4}, nil
		}
		return urlsafety.Validate(raw)
	}
}

type harness struct {
	svc      *Service
	repo     *memory.Store
	notifier *pubmemory.Publisher
	archive  *blobmemory.BlobStore
	ledger   *fakeLedger
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []capture.LedgerEntry
	err     error
}

func (l *fakeLedger) Record(_ context.Context, e capture.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, e)
	return nil
}

func (l *fakeLedger) BySlug(_ context.Context, slug string) (capture.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Slug == slug {
			return e, nil
		}
	}
	return capture.LedgerEntry{}, capture.ErrLinkNotFound
}

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "0190-test-id", nil }

func newHarness(t *testing.T, srv *httptest.Server, mutate func(*Deps)) *harness {
	t.Helper()
	validate := allowServer(srv)
	h := &harness{
		repo:     memory.New("main"),
		notifier: pubmemory.New(),
		archive:  blobmemory.NewBlobStore(),
		ledger:   &fakeLedger{},
	}
	deps := Deps{
		Validate:  validate,
		Fetcher:   bounded.New(bounded.Config{UserAgent: "linkcapture-test", Validate: validate}, nil),
		Assembler: record.NewAssembler(fake.New(testNow), record.DefaultPaths(), 0),
		Publisher: publish.New(h.repo, publish.Config{}, nil),
		Archive:   h.archive,
		Ledger:    h.ledger,
		Links:     h.ledger,
		Notifier:  h.notifier,
		IDs:       staticIDs{},
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := New(Config{ArchivePrefix: "snapshots"}, deps)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveEndToEnd(t *testing.T) {
	h := newHarness(t, nil, nil)

	res, err := h.svc.Save(context.Background(), capture.Submission{
		Title: "My Post",
		URL:   "https://example.com",
		Tags:  []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^my-post-\d+$`, res.Slug)
	assert.Equal(t, "my-post-1773500966000", res.Slug)
	assert.Equal(t, "main", res.Branch)
	assert.Empty(t, res.Image)

	doc, ok := h.repo.File("main", "apps/web/content/links/"+res.Slug+".mdx")
	require.True(t, ok)
	assert.Contains(t, string(doc), "tags:\n  - a\n  - b\n")
	assert.Equal(t, "feat: add link - My Post", h.repo.Message(res.CommitSHA))

	require.Len(t, h.ledger.entries, 1)
	assert.Equal(t, "0190-test-id", h.ledger.entries[0].ID)
	assert.Equal(t, res.CommitSHA, h.ledger.entries[0].CommitSHA)

	events := h.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, res.Slug, events[0].Slug)
	assert.Equal(t, []string{"a", "b"}, events[0].Tags)

	entry, err := h.svc.Link(context.Background(), res.Slug)
	require.NoError(t, err)
	assert.Equal(t, "My Post", entry.Title)
}

func TestSaveFetchesAndCommitsImage(t *testing.T) {
	pic := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pic)
	}))
	defer srv.Close()
	h := newHarness(t, srv, nil)

	res, err := h.svc.Save(context.Background(), capture.Submission{
		Title: "Pic",
		URL:   "https://example.com/pic",
		Image: srv.URL + "/cover",
	})
	require.NoError(t, err)
	assert.Equal(t, "/images/links/"+res.Slug+".png", res.Image)

	stored, ok := h.repo.File("main", "apps/web/public/images/links/"+res.Slug+".png")
	require.True(t, ok)
	assert.Equal(t, pic, stored)

	doc, _ := h.repo.File("main", "apps/web/content/links/"+res.Slug+".mdx")
	assert.Contains(t, string(doc), `image: "/images/links/`+res.Slug+`.png"`)
	assert.Len(t, h.ledger.entries[0].Files, 2)
}

func TestSaveDataURIImage(t *testing.T) {
	h := newHarness(t, nil, nil)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))

	res, err := h.svc.Save(context.Background(), capture.Submission{Title: "Inline", URL: "https://example.com", Image: uri})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Image, ".png"))
}

func TestSaveDropsRejectedImages(t *testing.T) {
	h := newHarness(t, nil, nil)
	svg := "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(`<svg onload="alert(1)"/>`))

	for _, img := range []string{svg, "http://169.254.169.254/latest/meta-data/"} {
		res, err := h.svc.Save(context.Background(), capture.Submission{Title: "No image", URL: "https://example.com", Image: img})
		require.NoError(t, err)
		assert.Empty(t, res.Image)
	}
}

func TestSaveSideEffectFailuresDoNotFailPublish(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.ledger.err = errors.New("db down")

	res, err := h.svc.Save(context.Background(), capture.Submission{Title: "Still saved", URL: "https://example.com"})
	require.NoError(t, err)
	head, _ := h.repo.BranchHead(context.Background(), "main")
	assert.Equal(t, res.CommitSHA, head)
	assert.Len(t, h.notifier.Events(), 1)
}

func TestSaveRejectsMissingFields(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.svc.Save(context.Background(), capture.Submission{Title: "x"})
	assert.True(t, errors.Is(err, capture.ErrValidationRejected))
	assert.Len(t, h.repo.History("main"), 1)
}

func TestPreviewScrapesAndArchives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head>
<meta property="og:title" content="OG Title">
<title>Doc Title</title>
<meta name="description" content="About things">
</head><body><img src="/hero.jpg"></body></html>`))
	}))
	defer srv.Close()
	h := newHarness(t, srv, nil)

	got, err := h.svc.Preview(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	assert.Equal(t, "OG Title", got.Title)
	assert.Equal(t, "About things", got.Description)
	assert.Equal(t, []string{srv.URL + "/hero.jpg"}, got.Images)
	assert.Equal(t, srv.URL+"/article", got.URL)
	assert.Equal(t, 1, h.archive.Len())
}

func TestPreviewRejectsUnsafeURL(t *testing.T) {
	h := newHarness(t, nil, nil)
	for _, raw := range []string{"", "file:///etc/passwd", "http://2130706433/", "http://169.254.169.254/"} {
		_, err := h.svc.Preview(context.Background(), raw)
		assert.True(t, errors.Is(err, capture.ErrValidationRejected), raw)
	}
}

func TestPreviewBadStatusIsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	h := newHarness(t, srv, nil)

	_, err := h.svc.Preview(context.Background(), srv.URL)
	ce, ok := capture.AsError(err)
	require.True(t, ok)
	assert.Equal(t, capture.KindUpstreamFetch, ce.Kind)
	assert.Equal(t, http.StatusBadGateway, ce.HTTPStatus())
}

type countingFetcher struct {
	calls int
}

func (f *countingFetcher) Fetch(context.Context, capture.FetchTarget, bounded.Options) (bounded.Result, error) {
	f.calls++
	return bounded.Result{}, errors.New("should not fetch")
}

type stubEmbeds struct {
	embed provider.Embed
	err   error
}

func (s stubEmbeds) Lookup(context.Context, provider.Video) (provider.Embed, error) {
	return s.embed, s.err
}

func TestPreviewProviderFastPath(t *testing.T) {
	fetcher := &countingFetcher{}
	h := newHarness(t, nil, func(d *Deps) {
		d.Fetcher = fetcher
		d.Embeds = stubEmbeds{embed: provider.Embed{Title: "Never Gonna", AuthorName: "Rick"}}
	})

	got, err := h.svc.Preview(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, 0, fetcher.calls)
	assert.Equal(t, "Never Gonna", got.Title)
	assert.Equal(t, "Video by Rick", got.Description)
	assert.Equal(t, "https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg", got.Images[0])
}

func TestPreviewProviderFailureScrapesPage(t *testing.T) {
	fetcher := &countingFetcher{}
	h := newHarness(t, nil, func(d *Deps) {
		d.Fetcher = fetcher
		d.Embeds = stubEmbeds{err: errors.New("oembed down")}
	})

	_, err := h.svc.Preview(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.Error(t, err)
	assert.Equal(t, 1, fetcher.calls)
}

type stubRenderer struct {
	page headless.Page
	shot []byte
}

func (r stubRenderer) Render(context.Context, capture.FetchTarget) (headless.Page, error) {
	return r.page, nil
}

func (r stubRenderer) Screenshot(context.Context, capture.FetchTarget, headless.ShotOptions) ([]byte, error) {
	return r.shot, nil
}

func TestPreviewPromotesJavaScriptShell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div id="__next"></div><script src="/app.js"></script></body></html>`))
	}))
	defer srv.Close()

	h := newHarness(t, srv, func(d *Deps) {
		d.Detector = detector.NewHeuristic(0)
		d.Renderer = stubRenderer{page: headless.Page{
			HTML:     `<html><head><title>Rendered</title></head></html>`,
			FinalURL: srv.URL + "/app",
		}}
	})

	got, err := h.svc.Preview(context.Background(), srv.URL+"/app")
	require.NoError(t, err)
	assert.Equal(t, "Rendered", got.Title)
}

func TestPreviewIgnoresRenderLandingOnBlockedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<div id="root"></div>`))
	}))
	defer srv.Close()

	h := newHarness(t, srv, func(d *Deps) {
		d.Detector = detector.NewHeuristic(0)
		d.Renderer = stubRenderer{page: headless.Page{
			HTML:     `<title>Secrets</title>`,
			FinalURL: "http://169.254.169.254/",
		}}
	})

	got, err := h.svc.Preview(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, got.Title)
}

func TestScreenshot(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.svc.Screenshot(context.Background(), "https://example.com")
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.False(t, h.svc.HeadlessEnabled())

	h = newHarness(t, nil, func(d *Deps) { d.Renderer = stubRenderer{shot: []byte{0xff, 0xd8}} })
	uri, err := h.svc.Screenshot(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "data:image/jpeg;base64,/9g=", uri)

	_, err = h.svc.Screenshot(context.Background(), "http://localhost/")
	assert.True(t, errors.Is(err, capture.ErrValidationRejected))
}

func TestDisabledRendererKeepsStaticPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Static</title></head><body><div id="root"></div></body></html>`))
	}))
	defer srv.Close()

	h := newHarness(t, srv, func(d *Deps) {
		d.Detector = detector.NewHeuristic(0)
		d.Renderer = headless.NewDisabled()
	})
	assert.False(t, h.svc.HeadlessEnabled())

	got, err := h.svc.Preview(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Static", got.Title)

	_, err = h.svc.Screenshot(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

type stubTagger struct{}

func (stubTagger) Suggest(context.Context, string, string, string) ([]string, error) {
	return []string{"go"}, nil
}

func (stubTagger) Vocabulary() []string { return []string{"go", "web"} }

func TestTags(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, _, err := h.svc.Tags(context.Background(), "t", "", "")
	assert.True(t, errors.Is(err, ErrNotConfigured))

	h = newHarness(t, nil, func(d *Deps) { d.Tagger = stubTagger{} })
	tags, vocab, err := h.svc.Tags(context.Background(), "t", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, tags)
	assert.Equal(t, []string{"go", "web"}, vocab)
}
