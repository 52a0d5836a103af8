package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
)

// Strict parses the document tree with goquery and reads Open Graph through
// go-opengraph. Values inside comments or scripts are never picked up.
type Strict struct{}

var cssURLRe = regexp.MustCompile(`(?i)url\(\s*["']?([^"')\s]+)["']?\s*\)`)

// Parse implements Parser. Unparseable input yields empty Signals.
func (Strict) Parse(doc string) Signals {
	var sig Signals

	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(strings.NewReader(doc)); err == nil {
		sig.OGTitle = og.Title
		sig.OGDescription = og.Description
		for _, img := range og.Images {
			if img == nil {
				continue
			}
			if img.URL != "" {
				sig.OGImage = img.URL
				break
			}
			if img.SecureURL != "" {
				sig.OGImage = img.SecureURL
				break
			}
		}
	}

	dom, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return sig
	}

	dom.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key, _ := s.Attr("name")
		if key == "" {
			key, _ = s.Attr("property")
		}
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "twitter:title":
			setOnce(&sig.TwitterTitle, content)
		case "twitter:description":
			setOnce(&sig.TwitterDescription, content)
		case "twitter:image", "twitter:image:src":
			setOnce(&sig.TwitterImage, content)
		case "description":
			setOnce(&sig.MetaDescription, content)
		}
	})

	sig.DocumentTitle = dom.Find("head title").First().Text()
	if strings.TrimSpace(sig.DocumentTitle) == "" {
		sig.DocumentTitle = dom.Find("title").First().Text()
	}

	dom.Find("img, [style]").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "img" {
			if tinySizeRe.MatchString(s.AttrOr("width", "")) || tinySizeRe.MatchString(s.AttrOr("height", "")) {
				return
			}
			src := strings.TrimSpace(s.AttrOr("src", ""))
			if src == "" {
				src = strings.TrimSpace(s.AttrOr("data-src", ""))
			}
			if src != "" {
				sig.PageImages = append(sig.PageImages, src)
			}
			return
		}
		style := s.AttrOr("style", "")
		if !strings.Contains(strings.ToLower(style), "background") {
			return
		}
		for _, m := range cssURLRe.FindAllStringSubmatch(style, -1) {
			sig.PageImages = append(sig.PageImages, m[1])
		}
	})

	return sig
}
