// Package gitvcs implements adapters.Vcs against a local git working
// directory invoked as an external executable, grounded on the teacher's
// internal/worktree.Manager (GitRunner interface in front of exec.Command,
// dir-scoped commands, trimmed combined output).
package gitvcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/pipeline"
	"github.com/lucasnoah/aelitaqueue/internal/ratelimit"
)

// GitRunner provides git commands; an interface so tests can substitute a
// fake without shelling out. Mirrors the teacher's worktree.GitRunner.
type GitRunner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit runs git via os/exec, trimming and wrapping combined output on
// failure exactly as the teacher's worktree.ExecGit does.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		return trimmed, fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), trimmed, err)
	}
	return trimmed, nil
}

type mergeJob struct {
	pipeline   ids.PipelineID
	pr         ids.PR
	pullCommit ids.Commit
	message    string
}

type moveJob struct {
	pipeline    ids.PipelineID
	mergeCommit ids.Commit
}

// Adapter is a Vcs backed by a local git repository. MergeToStaging and
// MoveStagingToMaster enqueue work non-blocking and return immediately;
// Run must be started in its own goroutine to actually perform the git
// operations and emit the resulting pipeline events.
type Adapter struct {
	git     GitRunner
	repoDir string
	staging string
	master  string
	remote  string
	limiter *ratelimit.Limiter
	bucket  string

	merges chan mergeJob
	moves  chan moveJob
	events chan pipeline.Event
}

// New returns an Adapter operating against repoDir, merging onto staging
// and fast-forwarding master, pushing to remote.
func New(git GitRunner, repoDir, staging, master, remote string, limiter *ratelimit.Limiter) *Adapter {
	return &Adapter{
		git:     git,
		repoDir: repoDir,
		staging: staging,
		master:  master,
		remote:  remote,
		limiter: limiter,
		bucket:  "gitvcs:" + remote,
		merges:  make(chan mergeJob, 64),
		moves:   make(chan moveJob, 64),
		events:  make(chan pipeline.Event, 64),
	}
}

// Events implements adapters.EventSource.
func (a *Adapter) Events() <-chan pipeline.Event { return a.events }

// MergeToStaging implements adapters.Vcs.
func (a *Adapter) MergeToStaging(pipelineID ids.PipelineID, pr ids.PR, pullCommit ids.Commit, message string) error {
	select {
	case a.merges <- mergeJob{pipeline: pipelineID, pr: pr, pullCommit: pullCommit, message: message}:
		return nil
	default:
		return fmt.Errorf("gitvcs: merge queue full")
	}
}

// MoveStagingToMaster implements adapters.Vcs.
func (a *Adapter) MoveStagingToMaster(pipelineID ids.PipelineID, mergeCommit ids.Commit) error {
	select {
	case a.moves <- moveJob{pipeline: pipelineID, mergeCommit: mergeCommit}:
		return nil
	default:
		return fmt.Errorf("gitvcs: move queue full")
	}
}

// Run consumes queued merge and move jobs until ctx is canceled.
func (a *Adapter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-a.merges:
			a.runMerge(ctx, j)
		case j := <-a.moves:
			a.runMove(ctx, j)
		}
	}
}

func (a *Adapter) runMerge(ctx context.Context, j mergeJob) {
	if err := a.limiter.Wait(ctx, a.bucket); err != nil {
		return
	}

	if _, err := a.runGit(ctx, "fetch", a.remote, j.pr.Remote()); err != nil {
		a.emit(pipeline.VcsFailedMergeToStaging{Pipeline: j.pipeline, PullCommit: j.pullCommit})
		return
	}
	if _, err := a.runGit(ctx, "checkout", "-B", a.staging, a.remote+"/"+a.staging); err != nil {
		a.emit(pipeline.VcsFailedMergeToStaging{Pipeline: j.pipeline, PullCommit: j.pullCommit})
		return
	}
	if _, err := a.runGit(ctx, "merge", "--no-ff", "-m", j.message, "FETCH_HEAD"); err != nil {
		a.emit(pipeline.VcsFailedMergeToStaging{Pipeline: j.pipeline, PullCommit: j.pullCommit})
		return
	}
	sha, err := a.runGit(ctx, "rev-parse", "HEAD")
	if err != nil {
		a.emit(pipeline.VcsFailedMergeToStaging{Pipeline: j.pipeline, PullCommit: j.pullCommit})
		return
	}
	if _, err := a.runGit(ctx, "push", "-f", a.remote, a.staging); err != nil {
		a.emit(pipeline.VcsFailedMergeToStaging{Pipeline: j.pipeline, PullCommit: j.pullCommit})
		return
	}

	a.emit(pipeline.VcsMergedToStaging{Pipeline: j.pipeline, PullCommit: j.pullCommit, MergeCommit: ids.Commit(sha)})
}

func (a *Adapter) runMove(ctx context.Context, j moveJob) {
	if err := a.limiter.Wait(ctx, a.bucket); err != nil {
		return
	}

	if _, err := a.runGit(ctx, "fetch", a.remote, a.master); err != nil {
		a.emit(pipeline.VcsFailedMoveToMaster{Pipeline: j.pipeline, MergeCommit: j.mergeCommit})
		return
	}
	// Fast-forward only: push refuses unless the remote master is an
	// ancestor of mergeCommit, matching spec.md §4.4's "must fast-forward
	// the protected branch ... or report failure."
	if _, err := a.runGit(ctx, "push", a.remote, string(j.mergeCommit)+":refs/heads/"+a.master); err != nil {
		a.emit(pipeline.VcsFailedMoveToMaster{Pipeline: j.pipeline, MergeCommit: j.mergeCommit})
		return
	}

	a.emit(pipeline.VcsMovedToMaster{Pipeline: j.pipeline, MergeCommit: j.mergeCommit})
}

// runGit runs one git command, retrying transient failures with the shared
// limiter's bounded exponential backoff (spec.md §4.5/§7: "retried inside
// the adapter by the rate limiter; on exhaustion, the adapter emits a
// failure event") before the caller gives up and surfaces the corresponding
// Vcs failure event. A successful call resets the bucket's backoff so the
// next command starts from the initial delay again.
func (a *Adapter) runGit(ctx context.Context, args ...string) (string, error) {
	for {
		out, err := a.git.Run(a.repoDir, args...)
		if err == nil {
			a.limiter.ResetBackoff(a.bucket)
			return out, nil
		}

		delay, ok := a.limiter.NextBackoff(a.bucket)
		if !ok {
			return out, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return out, ctx.Err()
		}
	}
}

func (a *Adapter) emit(e pipeline.Event) {
	select {
	case a.events <- e:
	default:
	}
}
