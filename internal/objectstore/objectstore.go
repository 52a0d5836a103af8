// Package objectstore defines the remote content repository the commit
// pipeline writes to: blobs, trees, commits and named branch refs.
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/linkcapture/internal/capture"
)

// ErrNotFastForward reports that a ref moved since it was read.
var ErrNotFastForward = errors.New("ref update is not a fast-forward")

// File modes and entry types used in trees.
const (
	ModeFile = "100644"
	TypeBlob = "blob"
)

// TreeEntry places a blob at a path.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// Store is the remote repository API.
type Store interface {
	DefaultBranch(ctx context.Context) (string, error)
	BranchHead(ctx context.Context, branch string) (string, error)
	CommitTree(ctx context.Context, commitSHA string) (string, error)
	CreateBlob(ctx context.Context, content []byte, encoding capture.Encoding) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error)
	CreateCommit(ctx context.Context, message, tree string, parents []string) (string, error)
	// UpdateRef moves branch to sha. With force false it fails with
	// ErrNotFastForward unless sha descends from the current head.
	UpdateRef(ctx context.Context, branch, sha string, force bool) error
}

// APIError is a non-success response from the remote store.
type APIError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }
