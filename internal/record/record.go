// Package record assembles the frontmatter document committed for a link.
package record

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/linkcapture/internal/capture"
)

const defaultSlugLength = 50

var (
	slugSeparatorRe = regexp.MustCompile(`[^a-z0-9]+`)
	// A leading letter rules out numbers, dates and timestamps in every base.
	plainTagRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _./+-]*$`)
)

// YAML scalars that would not round-trip as plain strings.
var reservedTags = map[string]struct{}{
	"true": {}, "false": {}, "yes": {}, "no": {}, "on": {}, "off": {},
	"null": {}, "y": {}, "n": {}, "~": {},
}

// Assembler builds records stamped with the time from clock.
type Assembler struct {
	clock      capture.Clock
	paths      Paths
	slugLength int
}

// NewAssembler creates an Assembler. A non-positive slugLength means 50.
func NewAssembler(clock capture.Clock, paths Paths, slugLength int) *Assembler {
	if slugLength <= 0 {
		slugLength = defaultSlugLength
	}
	return &Assembler{clock: clock, paths: paths, slugLength: slugLength}
}

// Assemble validates sub and renders its document. imageExt is the file
// extension of an image committed alongside the record, or empty.
func (a *Assembler) Assemble(sub capture.Submission, imageExt string) (capture.Record, error) {
	title := strings.TrimSpace(sub.Title)
	rawURL := strings.TrimSpace(sub.URL)
	if title == "" || rawURL == "" {
		return capture.Record{}, capture.Rejected("title and url are required", nil)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return capture.Record{}, capture.Rejected("invalid url", err)
	}

	now := a.clock.Now().UTC()
	slug := Slugify(title, a.slugLength) + "-" + strconv.FormatInt(now.UnixMilli(), 10)
	rec := capture.Record{Slug: slug, DocumentPath: a.paths.Document(slug), CreatedAt: now}
	if imageExt != "" {
		rec.ImagePath, rec.ImagePublicPath = a.paths.Image(slug, imageExt)
	}

	var b strings.Builder
	b.WriteString("---\n")
	writeField(&b, "title", title)
	if desc := strings.TrimSpace(sub.Description); desc != "" {
		writeField(&b, "description", desc)
	}
	writeField(&b, "url", rawURL)
	if rec.ImagePublicPath != "" {
		writeField(&b, "image", rec.ImagePublicPath)
	}
	fmt.Fprintf(&b, "date: %s\n", now.Format("2006-01-02"))
	if tags := NormalizeTags(sub.Tags); len(tags) > 0 {
		b.WriteString("tags:\n")
		for _, tag := range tags {
			b.WriteString("  - ")
			b.WriteString(tagScalar(tag))
			b.WriteString("\n")
		}
	}
	b.WriteString("---\n")

	rec.Document = b.String()
	return rec, nil
}

// Slugify lowercases title, collapses non-alphanumeric runs into single
// hyphens and trims the result to at most length characters.
func Slugify(title string, length int) string {
	slug := slugSeparatorRe.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > length {
		slug = strings.TrimRight(slug[:length], "-")
	}
	if slug == "" {
		return "link"
	}
	return slug
}

// Escape makes s safe inside a double-quoted YAML scalar: backslash and quote
// are escaped, newline, carriage return and tab become escape sequences and
// every other control character is dropped.
func Escape(s string) string {
	s = strings.ToValidUTF8(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '"':
			b.WriteString(`\"`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f || (r >= 0x80 && r < 0xa0) || r == '\u2028' || r == '\u2029':
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeTags trims tags, drops empties and removes duplicates while
// keeping the first occurrence.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.Join(strings.Fields(tag), " ")
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func writeField(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(`: "`)
	b.WriteString(Escape(value))
	b.WriteString("\"\n")
}

// tagScalar writes plain tags bare and quotes anything YAML could misread.
func tagScalar(tag string) string {
	if plainTagRe.MatchString(tag) {
		if _, reserved := reservedTags[strings.ToLower(tag)]; !reserved {
			return tag
		}
	}
	return `"` + Escape(tag) + `"`
}

// Paths places a record and its image inside the content repository.
type Paths struct {
	ContentDir        string
	ImageDir          string
	ImagePublicPrefix string
}

// DefaultPaths matches the site layout.
func DefaultPaths() Paths {
	return Paths{
		ContentDir:        "apps/web/content/links",
		ImageDir:          "apps/web/public/images/links",
		ImagePublicPrefix: "/images/links",
	}
}

// Document returns the repository path of the record for slug.
func (p Paths) Document(slug string) string {
	return strings.TrimRight(p.ContentDir, "/") + "/" + slug + ".mdx"
}

// Image returns the repository path and public path of an image for slug.
func (p Paths) Image(slug, ext string) (repoPath, publicPath string) {
	name := slug + "." + ext
	return strings.TrimRight(p.ImageDir, "/") + "/" + name,
		strings.TrimRight(p.ImagePublicPrefix, "/") + "/" + name
}

// CommitMessage is the message used when publishing a record.
func CommitMessage(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	return "feat: add link - " + title
}
