// Package capture defines the core types shared by the link capture pipeline.
package capture

import (
	"net/url"
	"time"
)

// HostClass describes how the host of a FetchTarget was written.
type HostClass string

// Host classes recorded on validated targets.
const (
	HostName HostClass = "hostname"
	HostIPv4 HostClass = "ipv4"
	HostIPv6 HostClass = "ipv6"
)

// FetchTarget is a URL that passed the safety validator. Only urlsafety
// constructs it; fetchers re-validate the final URL after redirects.
type FetchTarget struct {
	URL    *url.URL
	Scheme string
	Host   string
	Class  HostClass
}

// String returns the target URL.
func (t FetchTarget) String() string {
	if t.URL == nil {
		return ""
	}
	return t.URL.String()
}

// PreviewResult is the summary returned to the caller before saving.
// Images are ordered by priority: provider, Open Graph, Twitter Card, page scan.
type PreviewResult struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
	URL         string   `json:"url"`
}

// Submission is the caller-supplied payload for a new link record.
type Submission struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Image       string   `json:"imageUrl,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Record is an assembled content record ready to publish. ImagePath and
// ImagePublicPath are empty when the record carries no image.
type Record struct {
	Slug            string
	Document        string
	DocumentPath    string
	ImagePath       string
	ImagePublicPath string
	CreatedAt       time.Time
}

// Encoding names how blob content is transferred to the object store.
type Encoding string

// Supported blob encodings.
const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingBase64 Encoding = "base64"
)

// CommitFile is one file of a logical commit. It is immutable once built.
type CommitFile struct {
	path     string
	content  []byte
	encoding Encoding
}

// NewTextFile builds a UTF-8 text file.
func NewTextFile(path, text string) CommitFile {
	return CommitFile{path: path, content: []byte(text), encoding: EncodingUTF8}
}

// NewBinaryFile builds a binary file; the bytes are copied.
func NewBinaryFile(path string, data []byte) CommitFile {
	return CommitFile{path: path, content: append([]byte(nil), data...), encoding: EncodingBase64}
}

// Path returns the repository path of the file.
func (f CommitFile) Path() string { return f.path }

// Encoding returns the transfer encoding of the file.
func (f CommitFile) Encoding() Encoding { return f.encoding }

// Content returns a copy of the file bytes.
func (f CommitFile) Content() []byte { return append([]byte(nil), f.content...) }

// CommitResult describes a successful publish.
type CommitResult struct {
	Branch    string `json:"branch"`
	CommitSHA string `json:"commit_sha"`
	TreeSHA   string `json:"tree_sha"`
	ParentSHA string `json:"parent_sha"`
}

// LedgerEntry is the audit row written after a successful publish.
type LedgerEntry struct {
	ID        string
	Slug      string
	URL       string
	Title     string
	CommitSHA string
	Branch    string
	Files     []string
	CreatedAt time.Time
}

// PublishedEvent is the notification emitted after a successful publish.
type PublishedEvent struct {
	Slug      string    `json:"slug"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags,omitempty"`
	CommitSHA string    `json:"commit_sha"`
	Branch    string    `json:"branch"`
	CreatedAt time.Time `json:"created_at"`
}
