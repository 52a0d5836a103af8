// Package provider recognises video hosts whose previews come from a public
// oEmbed endpoint instead of scraping the page.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/fetcher/bounded"
	"github.com/JakeFAU/linkcapture/internal/urlsafety"
)

// Name identifies a supported provider.
type Name string

// Supported providers.
const (
	YouTube Name = "youtube"
	Vimeo   Name = "vimeo"
)

// Video is a recognised provider URL.
type Video struct {
	Provider     Name
	ID           string
	CanonicalURL string
	Thumbnails   []string
}

var (
	youtubeIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	vimeoIDRe   = regexp.MustCompile(`^\d+$`)
)

// Detect reports whether u is a YouTube or Vimeo video and derives its ID
// from the query, path or short-link form.
func Detect(u *url.URL) (Video, bool) {
	if u == nil {
		return Video{}, false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	switch host {
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		id := u.Query().Get("v")
		if id == "" && len(segments) >= 2 {
			switch segments[0] {
			case "shorts", "embed", "live", "v":
				id = segments[1]
			}
		}
		return youtubeVideo(id)
	case "youtu.be":
		if len(segments) >= 1 {
			return youtubeVideo(segments[0])
		}
	case "vimeo.com", "player.vimeo.com":
		for _, seg := range segments {
			if vimeoIDRe.MatchString(seg) {
				return Video{
					Provider:     Vimeo,
					ID:           seg,
					CanonicalURL: "https://vimeo.com/" + seg,
				}, true
			}
		}
	}
	return Video{}, false
}

func youtubeVideo(id string) (Video, bool) {
	if !youtubeIDRe.MatchString(id) {
		return Video{}, false
	}
	return Video{
		Provider:     YouTube,
		ID:           id,
		CanonicalURL: "https://www.youtube.com/watch?v=" + id,
		Thumbnails: []string{
			"https://i.ytimg.com/vi/" + id + "/maxresdefault.jpg",
			"https://i.ytimg.com/vi/" + id + "/hqdefault.jpg",
		},
	}, true
}

// Embed is the subset of an oEmbed response used for previews.
type Embed struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ProviderName string `json:"provider_name"`
	ThumbnailURL string `json:"thumbnail_url"`
	Description  string `json:"description"`
}

// Fetcher is the bounded fetch used for oEmbed calls.
type Fetcher interface {
	Fetch(ctx context.Context, target capture.FetchTarget, opts bounded.Options) (bounded.Result, error)
}

// Client calls provider oEmbed endpoints.
type Client struct {
	fetcher   Fetcher
	endpoints map[Name]string
	timeout   time.Duration
	validate  urlsafety.Func
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the oEmbed endpoint for a provider.
func WithEndpoint(name Name, endpoint string) Option {
	return func(c *Client) { c.endpoints[name] = endpoint }
}

// WithValidator overrides the URL validator used for endpoint URLs.
func WithValidator(fn urlsafety.Func) Option {
	return func(c *Client) { c.validate = fn }
}

// NewClient creates a Client fetching through f.
func NewClient(f Fetcher, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		fetcher: f,
		endpoints: map[Name]string{
			YouTube: "https://www.youtube.com/oembed",
			Vimeo:   "https://vimeo.com/api/oembed.json",
		},
		timeout:  timeout,
		validate: urlsafety.Validate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const maxEmbedBytes = 256 << 10

// Lookup fetches the oEmbed document for v.
func (c *Client) Lookup(ctx context.Context, v Video) (Embed, error) {
	endpoint, ok := c.endpoints[v.Provider]
	if !ok {
		return Embed{}, fmt.Errorf("no oembed endpoint for %s", v.Provider)
	}
	q := url.Values{}
	q.Set("url", v.CanonicalURL)
	q.Set("format", "json")

	target, err := c.validate(endpoint + "?" + q.Encode())
	if err != nil {
		return Embed{}, fmt.Errorf("validate oembed endpoint: %w", err)
	}
	res, err := c.fetcher.Fetch(ctx, target, bounded.Options{
		Kind:     "oembed",
		MaxBytes: maxEmbedBytes,
		Timeout:  c.timeout,
		Accept:   "application/json",
	})
	if err != nil {
		return Embed{}, fmt.Errorf("fetch oembed: %w", err)
	}

	var embed Embed
	if err := json.Unmarshal(res.Body, &embed); err != nil {
		return Embed{}, fmt.Errorf("decode oembed: %w", err)
	}
	return embed, nil
}

// Preview turns a recognised video and its oEmbed data into a partial
// preview. Provider thumbnails come first.
func Preview(v Video, embed Embed, sourceURL string) capture.PreviewResult {
	images := append([]string(nil), v.Thumbnails...)
	if embed.ThumbnailURL != "" {
		images = append(images, embed.ThumbnailURL)
	}
	desc := strings.TrimSpace(embed.Description)
	if desc == "" && embed.AuthorName != "" {
		desc = "Video by " + embed.AuthorName
	}
	return capture.PreviewResult{
		Title:       strings.TrimSpace(embed.Title),
		Description: desc,
		Images:      images,
		URL:         sourceURL,
	}
}
