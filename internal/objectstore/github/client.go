// Package github implements objectstore.Store over the GitHub git data API.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/objectstore"
)

const (
	defaultBaseURL  = "https://api.github.com"
	apiVersion      = "2022-11-28"
	maxErrorBody    = 4 << 10
	maxResponseBody = 1 << 20
)

// Config locates the repository and authenticates against it.
type Config struct {
	BaseURL    string
	Repository string
	Token      string
	Timeout    time.Duration
}

// Client talks to one repository.
type Client struct {
	http   *http.Client
	base   string
	owner  string
	repo   string
	logger *zap.Logger
}

// New builds a Client. The token is attached by an oauth2 transport.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	owner, repo, ok := strings.Cut(cfg.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("repository must be owner/name, got %q", cfg.Repository)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("store token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	httpClient.Timeout = cfg.Timeout

	return &Client{
		http:   httpClient,
		base:   strings.TrimRight(cfg.BaseURL, "/") + "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo),
		owner:  owner,
		repo:   repo,
		logger: logger.Named("github"),
	}, nil
}

type shaResponse struct {
	SHA string `json:"sha"`
}

// DefaultBranch implements objectstore.Store.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.do(ctx, "get repository", http.MethodGet, "", nil, &out); err != nil {
		return "", err
	}
	if out.DefaultBranch == "" {
		return "", &objectstore.APIError{Op: "get repository", Status: http.StatusOK, Body: "missing default_branch"}
	}
	return out.DefaultBranch, nil
}

// BranchHead implements objectstore.Store.
func (c *Client) BranchHead(ctx context.Context, branch string) (string, error) {
	var out struct {
		Object shaResponse `json:"object"`
	}
	if err := c.do(ctx, "get ref", http.MethodGet, "/git/ref/heads/"+escapeRef(branch), nil, &out); err != nil {
		return "", err
	}
	return out.Object.SHA, nil
}

// CommitTree implements objectstore.Store.
func (c *Client) CommitTree(ctx context.Context, commitSHA string) (string, error) {
	var out struct {
		Tree shaResponse `json:"tree"`
	}
	if err := c.do(ctx, "get commit", http.MethodGet, "/git/commits/"+url.PathEscape(commitSHA), nil, &out); err != nil {
		return "", err
	}
	return out.Tree.SHA, nil
}

// CreateBlob implements objectstore.Store.
func (c *Client) CreateBlob(ctx context.Context, content []byte, encoding capture.Encoding) (string, error) {
	body := map[string]string{"encoding": string(encoding)}
	if encoding == capture.EncodingBase64 {
		body["content"] = base64.StdEncoding.EncodeToString(content)
	} else {
		body["content"] = string(content)
	}
	var out shaResponse
	if err := c.do(ctx, "create blob", http.MethodPost, "/git/blobs", body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// CreateTree implements objectstore.Store.
func (c *Client) CreateTree(ctx context.Context, baseTree string, entries []objectstore.TreeEntry) (string, error) {
	body := struct {
		BaseTree string                  `json:"base_tree"`
		Tree     []objectstore.TreeEntry `json:"tree"`
	}{BaseTree: baseTree, Tree: entries}
	var out shaResponse
	if err := c.do(ctx, "create tree", http.MethodPost, "/git/trees", body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// CreateCommit implements objectstore.Store.
func (c *Client) CreateCommit(ctx context.Context, message, tree string, parents []string) (string, error) {
	body := struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}{Message: message, Tree: tree, Parents: parents}
	var out shaResponse
	if err := c.do(ctx, "create commit", http.MethodPost, "/git/commits", body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// UpdateRef implements objectstore.Store. GitHub rejects a non-forced update
// of a moved branch with 422 "Update is not a fast forward"; the same status
// also covers missing objects and refs, which stay plain API errors.
func (c *Client) UpdateRef(ctx context.Context, branch, sha string, force bool) error {
	body := struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}{SHA: sha, Force: force}
	err := c.do(ctx, "update ref", http.MethodPatch, "/git/refs/heads/"+escapeRef(branch), body, nil)
	if apiErr, ok := err.(*objectstore.APIError); ok && !force && notFastForward(apiErr) {
		apiErr.Err = objectstore.ErrNotFastForward
	}
	return err
}

func notFastForward(apiErr *objectstore.APIError) bool {
	if apiErr.Status != http.StatusUnprocessableEntity && apiErr.Status != http.StatusConflict {
		return false
	}
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(apiErr.Body), &msg); err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(msg.Message), "not a fast forward")
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &objectstore.APIError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return &objectstore.APIError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &objectstore.APIError{Op: op, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	c.logger.Debug("store call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &objectstore.APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return &objectstore.APIError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func escapeRef(branch string) string {
	parts := strings.Split(branch, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
