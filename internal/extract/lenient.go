package extract

import (
	"html"
	"regexp"
	"strings"
)

// Lenient finds metadata with regular expressions. It tolerates broken markup
// and attribute order but does not understand the document tree.
type Lenient struct{}

var (
	metaTagRe  = regexp.MustCompile(`(?is)<meta\b[^>]*>`)
	attrRe     = regexp.MustCompile(`(?is)([a-z_:\-]+)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	titleRe    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	imgTagRe   = regexp.MustCompile(`(?is)<img\b[^>]*>`)
	bgImageRe  = regexp.MustCompile(`(?is)background(?:-image)?\s*:[^;"'>]*?url\(\s*["']?([^"')\s]+)["']?\s*\)`)
	commentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	scriptRe   = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	tinySizeRe = regexp.MustCompile(`^\s*[01](px)?\s*$`)
)

// Parse implements Parser.
func (Lenient) Parse(doc string) Signals {
	doc = commentRe.ReplaceAllString(doc, "")
	doc = scriptRe.ReplaceAllString(doc, "")

	var sig Signals
	for _, tag := range metaTagRe.FindAllString(doc, -1) {
		attrs := parseAttrs(tag)
		key := strings.ToLower(strings.TrimSpace(firstAttr(attrs, "property", "name")))
		content, ok := attrs["content"]
		if key == "" || !ok {
			continue
		}
		content = html.UnescapeString(content)
		switch key {
		case "og:title":
			setOnce(&sig.OGTitle, content)
		case "twitter:title":
			setOnce(&sig.TwitterTitle, content)
		case "og:description":
			setOnce(&sig.OGDescription, content)
		case "twitter:description":
			setOnce(&sig.TwitterDescription, content)
		case "description":
			setOnce(&sig.MetaDescription, content)
		case "og:image", "og:image:url", "og:image:secure_url":
			setOnce(&sig.OGImage, content)
		case "twitter:image", "twitter:image:src":
			setOnce(&sig.TwitterImage, content)
		}
	}

	if m := titleRe.FindStringSubmatch(doc); m != nil {
		sig.DocumentTitle = html.UnescapeString(m[1])
	}

	for _, tag := range imgTagRe.FindAllString(doc, -1) {
		attrs := parseAttrs(tag)
		if tinySizeRe.MatchString(attrs["width"]) || tinySizeRe.MatchString(attrs["height"]) {
			continue
		}
		src := firstAttr(attrs, "src", "data-src")
		if src != "" {
			sig.PageImages = append(sig.PageImages, html.UnescapeString(src))
		}
	}
	for _, m := range bgImageRe.FindAllStringSubmatch(doc, -1) {
		sig.PageImages = append(sig.PageImages, html.UnescapeString(m[1]))
	}
	return sig
}

func parseAttrs(tag string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(tag, -1) {
		name := strings.ToLower(m[1])
		if _, exists := attrs[name]; exists {
			continue
		}
		value := m[2]
		if value == "" {
			value = m[3]
		}
		attrs[name] = value
	}
	return attrs
}

func firstAttr(attrs map[string]string, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(attrs[n]); v != "" {
			return v
		}
	}
	return ""
}

func setOnce(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = v
	}
}
