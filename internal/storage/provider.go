// Package storage holds the snapshot archive backends and the helpers they
// share. Backends live in subpackages (memory, local, gcs).
package storage

import (
	"context"
	"path"
	"strings"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/digest"
)

// SnapshotKey returns the archive key for a page body fetched from host:
// <prefix>/<host>/<sha256>.html.
func SnapshotKey(prefix, host string, body []byte) string {
	host = strings.ToLower(strings.Trim(host, "/."))
	if host == "" {
		host = "unknown"
	}
	return path.Join(strings.Trim(prefix, "/"), host, digest.SHA256Hex(body)+".html")
}

// Disabled is an ArchiveStore that keeps nothing.
type Disabled struct{}

var _ capture.ArchiveStore = Disabled{}

// Put discards data and returns an empty URI.
func (Disabled) Put(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
