// Package publish commits a set of files to the remote object store as a
// single fast-forward change of the default branch.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/metrics"
	"github.com/JakeFAU/linkcapture/internal/objectstore"
	"github.com/JakeFAU/linkcapture/internal/telemetry"
)

// Step names one stage of the pipeline.
type Step string

// Pipeline steps in execution order.
const (
	StepResolveDefaultBranch Step = "resolve_default_branch"
	StepResolveBranchHead    Step = "resolve_branch_head"
	StepResolveBaseTree      Step = "resolve_base_tree"
	StepCreateBlobs          Step = "create_blobs"
	StepCreateTree           Step = "create_tree"
	StepCreateCommit         Step = "create_commit"
	StepUpdateRef            Step = "update_ref"
)

const defaultBlobParallelism = 4

// StepError is a failure at a named step. Status and Body are copied from
// the remote response when there was one.
type StepError struct {
	Step   Step
	Status int
	Body   string
	Err    error
}

func (e *StepError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("publish %s: status %d: %s", e.Step, e.Status, e.Body)
	}
	return fmt.Sprintf("publish %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Conflict reports whether the branch moved underneath the pipeline.
func (e *StepError) Conflict() bool {
	return errors.Is(e.Err, objectstore.ErrNotFastForward)
}

// Config tunes a Pipeline.
type Config struct {
	// Timeout bounds one whole run. It is applied to a context detached
	// from the caller's cancellation.
	Timeout         time.Duration
	BlobParallelism int
}

// Pipeline runs the commit sequence against a Store.
type Pipeline struct {
	store  objectstore.Store
	cfg    Config
	logger *zap.Logger
}

var _ capture.Publisher = (*Pipeline)(nil)

// New builds a Pipeline.
func New(store objectstore.Store, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.BlobParallelism <= 0 {
		cfg.BlobParallelism = defaultBlobParallelism
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: store, cfg: cfg, logger: logger.Named("publish")}
}

// Publish commits files with message on top of the default branch head.
// The update is never forced; a concurrent writer that moved the branch
// first makes this call fail with a publish_conflict error and leaves the
// branch untouched.
func (p *Pipeline) Publish(ctx context.Context, files []capture.CommitFile, message string) (capture.CommitResult, error) {
	if len(files) == 0 {
		return capture.CommitResult{}, capture.Rejected("nothing to publish", nil)
	}

	// A client disconnect must not leave blobs and trees half written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()

	res, err := p.run(ctx, files, message)
	if err != nil {
		outcome := "failed"
		var stepErr *StepError
		if errors.As(err, &stepErr) && stepErr.Conflict() {
			outcome = "conflict"
		}
		metrics.ObservePublish(outcome)
		p.logger.Warn("publish failed", zap.String("outcome", outcome), zap.Error(err))
		return capture.CommitResult{}, toCaptureError(err)
	}

	metrics.ObservePublish("ok")
	p.logger.Info("published",
		zap.String("branch", res.Branch),
		zap.String("commit", res.CommitSHA),
		zap.Int("files", len(files)),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, files []capture.CommitFile, message string) (capture.CommitResult, error) {
	var branch, head, baseTree, tree, commit string

	err := p.step(ctx, StepResolveDefaultBranch, func(ctx context.Context) (err error) {
		branch, err = p.store.DefaultBranch(ctx)
		return err
	})
	if err != nil {
		return capture.CommitResult{}, err
	}

	err = p.step(ctx, StepResolveBranchHead, func(ctx context.Context) (err error) {
		head, err = p.store.BranchHead(ctx, branch)
		return err
	})
	if err != nil {
		return capture.CommitResult{}, err
	}

	err = p.step(ctx, StepResolveBaseTree, func(ctx context.Context) (err error) {
		baseTree, err = p.store.CommitTree(ctx, head)
		return err
	})
	if err != nil {
		return capture.CommitResult{}, err
	}

	entries := make([]objectstore.TreeEntry, len(files))
	err = p.step(ctx, StepCreateBlobs, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.BlobParallelism)
		for i, f := range files {
			g.Go(func() error {
				sha, err := p.store.CreateBlob(gctx, f.Content(), f.Encoding())
				if err != nil {
					return fmt.Errorf("blob %s: %w", f.Path(), err)
				}
				entries[i] = objectstore.TreeEntry{
					Path: f.Path(),
					Mode: objectstore.ModeFile,
					Type: objectstore.TypeBlob,
					SHA:  sha,
				}
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return capture.CommitResult{}, err
	}

	err = p.step(ctx, StepCreateTree, func(ctx context.Context) (err error) {
		tree, err = p.store.CreateTree(ctx, baseTree, entries)
		return err
	})
	if err != nil {
		return capture.CommitResult{}, err
	}

	err = p.step(ctx, StepCreateCommit, func(ctx context.Context) (err error) {
		commit, err = p.store.CreateCommit(ctx, message, tree, []string{head})
		return err
	})
	if err != nil {
		return capture.CommitResult{}, err
	}

	err = p.step(ctx, StepUpdateRef, func(ctx context.Context) error {
		return p.store.UpdateRef(ctx, branch, commit, false)
	})
	if err != nil {
		return capture.CommitResult{}, err
	}

	return capture.CommitResult{Branch: branch, CommitSHA: commit, TreeSHA: tree, ParentSHA: head}, nil
}

func (p *Pipeline) step(ctx context.Context, name Step, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer("publish").Start(ctx, "publish."+string(name))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.ObservePublishStep(string(name), time.Since(start))
	if err == nil {
		return nil
	}
	telemetry.RecordError(span, err)
	se := &StepError{Step: name, Err: err}
	var apiErr *objectstore.APIError
	if errors.As(err, &apiErr) {
		se.Status = apiErr.Status
		se.Body = apiErr.Body
	}
	return se
}

func toCaptureError(err error) error {
	var se *StepError
	if !errors.As(err, &se) {
		return &capture.Error{Kind: capture.KindPublishFailed, Message: "failed to publish", Err: err}
	}
	if se.Conflict() {
		return &capture.Error{
			Kind:    capture.KindPublishConflict,
			Message: "branch moved during publish, retry",
			Step:    string(se.Step),
			Err:     se,
		}
	}
	return &capture.Error{
		Kind:    capture.KindPublishFailed,
		Message: "failed to publish",
		Step:    string(se.Step),
		Err:     se,
	}
}
