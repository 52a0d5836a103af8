// Package memory is an in-process objectstore.Store with git-style object
// IDs and fast-forward checking on ref updates.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/digest"
	"github.com/JakeFAU/linkcapture/internal/objectstore"
)

type commit struct {
	message string
	tree    string
	parents []string
}

// Store holds objects and refs for a single repository.
type Store struct {
	mu            sync.Mutex
	defaultBranch string
	blobs         map[string][]byte
	trees         map[string]map[string]string
	commits       map[string]commit
	refs          map[string]string
}

// New creates a repository with one empty root commit on defaultBranch.
func New(defaultBranch string) *Store {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	s := &Store{
		defaultBranch: defaultBranch,
		blobs:         make(map[string][]byte),
		trees:         make(map[string]map[string]string),
		commits:       make(map[string]commit),
		refs:          make(map[string]string),
	}
	root := s.putTree(map[string]string{})
	s.refs[defaultBranch] = s.putCommit("initial commit", root, nil)
	return s
}

// DefaultBranch implements objectstore.Store.
func (s *Store) DefaultBranch(context.Context) (string, error) {
	return s.defaultBranch, nil
}

// BranchHead implements objectstore.Store.
func (s *Store) BranchHead(_ context.Context, branch string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha, ok := s.refs[branch]
	if !ok {
		return "", &objectstore.APIError{Op: "get ref", Status: 404, Body: "ref not found: " + branch}
	}
	return sha, nil
}

// CommitTree implements objectstore.Store.
func (s *Store) CommitTree(_ context.Context, commitSHA string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[commitSHA]
	if !ok {
		return "", &objectstore.APIError{Op: "get commit", Status: 404, Body: "commit not found"}
	}
	return c.tree, nil
}

// CreateBlob implements objectstore.Store. Content is stored decoded.
func (s *Store) CreateBlob(_ context.Context, content []byte, _ capture.Encoding) (string, error) {
	data := append([]byte(nil), content...)
	sha := digest.GitObjectID("blob", data)
	s.mu.Lock()
	s.blobs[sha] = data
	s.mu.Unlock()
	return sha, nil
}

// CreateTree implements objectstore.Store.
func (s *Store) CreateTree(_ context.Context, baseTree string, entries []objectstore.TreeEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := make(map[string]string)
	if baseTree != "" {
		base, ok := s.trees[baseTree]
		if !ok {
			return "", &objectstore.APIError{Op: "create tree", Status: 422, Body: "base_tree not found"}
		}
		for p, sha := range base {
			files[p] = sha
		}
	}
	for _, e := range entries {
		if _, ok := s.blobs[e.SHA]; !ok {
			return "", &objectstore.APIError{Op: "create tree", Status: 422, Body: "blob not found: " + e.SHA}
		}
		files[e.Path] = e.SHA
	}
	return s.putTree(files), nil
}

// CreateCommit implements objectstore.Store.
func (s *Store) CreateCommit(_ context.Context, message, tree string, parents []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trees[tree]; !ok {
		return "", &objectstore.APIError{Op: "create commit", Status: 422, Body: "tree not found"}
	}
	for _, p := range parents {
		if _, ok := s.commits[p]; !ok {
			return "", &objectstore.APIError{Op: "create commit", Status: 422, Body: "parent not found"}
		}
	}
	return s.putCommit(message, tree, parents), nil
}

// UpdateRef implements objectstore.Store.
func (s *Store) UpdateRef(_ context.Context, branch, sha string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commits[sha]; !ok {
		return &objectstore.APIError{Op: "update ref", Status: 422, Body: "object not found"}
	}
	current, ok := s.refs[branch]
	if !ok {
		return &objectstore.APIError{Op: "update ref", Status: 404, Body: "ref not found: " + branch}
	}
	if !force && current != sha && !s.descends(sha, current) {
		return &objectstore.APIError{
			Op:     "update ref",
			Status: 422,
			Body:   "Update is not a fast forward",
			Err:    objectstore.ErrNotFastForward,
		}
	}
	s.refs[branch] = sha
	return nil
}

// File returns the content at path on branch.
func (s *Store) File(branch, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.refs[branch]
	if !ok {
		return nil, false
	}
	blob, ok := s.trees[s.commits[head].tree][path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), s.blobs[blob]...), true
}

// Message returns the commit message for sha.
func (s *Store) Message(sha string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits[sha].message
}

// History returns commit SHAs reachable from branch by first parent,
// newest first.
func (s *Store) History(branch string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for sha := s.refs[branch]; sha != ""; {
		out = append(out, sha)
		c := s.commits[sha]
		if len(c.parents) == 0 {
			break
		}
		sha = c.parents[0]
	}
	return out
}

func (s *Store) descends(sha, ancestor string) bool {
	seen := map[string]bool{}
	stack := []string{sha}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == ancestor {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, s.commits[cur].parents...)
	}
	return false
}

func (s *Store) putTree(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s %s %s\n", objectstore.ModeFile, files[p], p)
	}
	sha := digest.GitObjectID("tree", []byte(b.String()))
	s.trees[sha] = files
	return sha
}

func (s *Store) putCommit(message, tree string, parents []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tree %s\n", tree)
	for _, p := range parents {
		fmt.Fprintf(&b, "parent %s\n", p)
	}
	fmt.Fprintf(&b, "\n%s\n", message)
	sha := digest.GitObjectID("commit", []byte(b.String()))
	s.commits[sha] = commit{message: message, tree: tree, parents: append([]string(nil), parents...)}
	return sha
}
