// Package githubui implements adapters.Ui against GitHub pull requests: an
// HTTP webhook receiver translating "pull_request" and "issue_comment"
// payloads into pipeline.Event values, and a poster that writes results
// back as PR comments using the teacher's gh-CLI-wrapper pattern
// (internal/github.CmdRunner/ExecRunner, generalized here into an
// interface so the HTTP and posting halves share one dependency).
package githubui

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/pipeline"
	"github.com/lucasnoah/aelitaqueue/internal/ratelimit"
)

// CmdRunner executes the gh CLI; an interface for testing, mirroring the
// teacher's internal/github.CmdRunner.
type CmdRunner interface {
	Run(args ...string) (string, error)
}

// ExecRunner runs gh via os/exec, exactly as the teacher's ExecRunner does.
type ExecRunner struct{}

func (r *ExecRunner) Run(args ...string) (string, error) {
	cmd := exec.Command("gh", args...)
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		return trimmed, fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), trimmed, err)
	}
	return trimmed, nil
}

// pullRequestPayload mirrors the fields spec.md §6 says a "pull_request"
// webhook carries.
type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Title string `json:"title"`
		HTMLURL string `json:"html_url"`
		Head  struct {
			Sha string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
}

// issueCommentPayload mirrors an "issue_comment" webhook, which is how
// review commands (r+, r-, try+, try-) arrive.
type issueCommentPayload struct {
	Action     string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Issue struct {
		Number      int       `json:"number"`
		PullRequest *struct{} `json:"pull_request"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
}

// membershipPayload mirrors GitHub's "membership" webhook, used to refresh
// the permission cache instead of querying collaborators on every comment.
type membershipPayload struct {
	Action string `json:"action"` // "added" or "removed"
	Scope  string `json:"scope"`
	Member struct {
		Login string `json:"login"`
	} `json:"member"`
	Organization struct {
		Login string `json:"login"`
	} `json:"organization"`
}

var commandRe = regexp.MustCompile(`(?m)^\s*(r\+|r=\S+|r-|try\+|try-)(?:\s*\(([0-9a-fA-F]+)\))?\s*$`)

// PermissionChecker authorizes a commenter before a review command is
// honored. The state machine never checks permission itself (spec.md
// §4.4); this is consulted only here, in the Ui adapter, before an
// Approved event is ever emitted. A nil PermissionChecker allows every
// commenter, matching local-dev/no-auth setups.
type PermissionChecker interface {
	Allowed(repo, user string) bool
}

// resultJob is one queued SendResult call, posted by Run's worker loop so
// SendResult itself never blocks the dispatcher on the gh CLI call.
type resultJob struct {
	pr     ids.PR
	status pipeline.Status
}

// Adapter is a Ui backed by GitHub. It exposes an http.Handler for the
// webhook endpoint and posts results back via CmdRunner.
type Adapter struct {
	pipeline ids.PipelineID
	secret   []byte
	cmd      CmdRunner
	remote   string // base remote refspec prefix, e.g. "refs/pull"
	limiter  *ratelimit.Limiter
	bucket   string
	events   chan pipeline.Event
	results  chan resultJob
	perms    PermissionChecker
}

// New returns an Adapter for pipelineID, verifying webhooks with secret and
// posting results through cmd (typically &ExecRunner{}).
func New(pipelineID ids.PipelineID, secret []byte, cmd CmdRunner, limiter *ratelimit.Limiter) *Adapter {
	return &Adapter{
		pipeline: pipelineID,
		secret:   secret,
		cmd:      cmd,
		remote:   "refs/pull",
		limiter:  limiter,
		bucket:   fmt.Sprintf("githubui:%d", pipelineID),
		events:   make(chan pipeline.Event, 64),
		results:  make(chan resultJob, 64),
	}
}

// Run consumes queued SendResult calls until ctx is canceled, rate-limited
// through the shared ratelimit.Limiter exactly as gitvcs.Adapter.Run rate-
// limits its merge/move jobs.
func (a *Adapter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-a.results:
			a.postResult(ctx, j)
		}
	}
}

// postResult posts one PR comment, retrying a failing gh CLI invocation
// with the shared limiter's bounded exponential backoff before giving up
// (spec.md §4.5/§7: transient remote errors are "retried inside the
// adapter by the rate limiter"). There is no corresponding pipeline event
// for a failed result post — spec.md §4.4 treats Ui as a one-way outbound
// notification, not part of the state machine's terminal-status
// accounting — so exhaustion here simply drops the comment.
func (a *Adapter) postResult(ctx context.Context, j resultJob) {
	if err := a.limiter.Wait(ctx, a.bucket); err != nil {
		return
	}
	body := formatStatus(j.status)
	for {
		_, err := a.cmd.Run("pr", "comment", j.pr.String(), "--body", body)
		if err == nil {
			a.limiter.ResetBackoff(a.bucket)
			return
		}

		delay, ok := a.limiter.NextBackoff(a.bucket)
		if !ok {
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// SetPermissions installs the permission cache consulted before honoring
// review commands. Optional: spec.md §6 lists "team membership changed"
// as an optional capability.
func (a *Adapter) SetPermissions(perms PermissionChecker) {
	a.perms = perms
}

func (a *Adapter) allowed(repo, user string) bool {
	if a.perms == nil {
		return true
	}
	if a.perms.Allowed(repo, user) {
		return true
	}
	// Membership webhooks record grants under the organization login, so an
	// "owner/name" repository also accepts a grant made for its owner.
	owner, _, _ := strings.Cut(repo, "/")
	return a.perms.Allowed(owner, user)
}

// Events implements adapters.EventSource.
func (a *Adapter) Events() <-chan pipeline.Event { return a.events }

// ServeHTTP implements the inbound review webhook of spec.md §6: it checks
// the HMAC-SHA1 signature, dispatches on the event-type header, and
// rejects anything that fails verification or parsing with 400.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if !a.verifySignature(r.Header.Get("X-Hub-Signature"), body) {
		http.Error(w, "bad signature", http.StatusBadRequest)
		return
	}

	switch r.Header.Get("X-GitHub-Event") {
	case "ping":
		w.WriteHeader(http.StatusNoContent)
	case "pull_request":
		a.handlePullRequest(w, body)
	case "issue_comment":
		a.handleIssueComment(w, body)
	case "membership":
		a.handleMembership(w, body)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *Adapter) verifySignature(header string, body []byte) bool {
	if len(a.secret) == 0 {
		return true // signature checking disabled, e.g. in local dev
	}
	const prefix = "sha1="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha1.New, a.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(header, prefix)))
}

func (a *Adapter) handlePullRequest(w http.ResponseWriter, body []byte) {
	var p pullRequestPayload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "malformed pull_request payload", http.StatusBadRequest)
		return
	}

	pr := ids.NewPR(fmt.Sprintf("%d", p.Number), fmt.Sprintf("%s/%d/head", a.remote, p.Number))
	commit := ids.Commit(p.PullRequest.Head.Sha)

	switch p.Action {
	case "opened", "reopened":
		a.emit(pipeline.UiOpened{Pipeline: a.pipeline, PR: pr, Commit: commit, Title: p.PullRequest.Title, URL: p.PullRequest.HTMLURL})
	case "synchronize", "edited":
		a.emit(pipeline.UiChanged{Pipeline: a.pipeline, PR: pr, Commit: commit, Title: p.PullRequest.Title, URL: p.PullRequest.HTMLURL})
	case "closed":
		a.emit(pipeline.UiClosed{Pipeline: a.pipeline, PR: pr})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleIssueComment(w http.ResponseWriter, body []byte) {
	var p issueCommentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "malformed issue_comment payload", http.StatusBadRequest)
		return
	}
	if p.Issue.PullRequest == nil || p.Action != "created" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	match := commandRe.FindStringSubmatch(p.Comment.Body)
	if match == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !a.allowed(p.Repository.FullName, p.Comment.User.Login) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	pr := ids.NewPR(fmt.Sprintf("%d", p.Issue.Number), fmt.Sprintf("%s/%d/head", a.remote, p.Issue.Number))
	command, pinned := match[1], match[2]

	switch {
	case command == "r+" || strings.HasPrefix(command, "r="):
		var commit *ids.Commit
		if pinned != "" {
			c := ids.Commit(pinned)
			commit = &c
		}
		a.emit(pipeline.UiApproved{Pipeline: a.pipeline, PR: pr, Commit: commit})
	case command == "r-" || command == "try-":
		a.emit(pipeline.UiCanceled{Pipeline: a.pipeline, PR: pr})
	case command == "try+":
		a.emit(pipeline.UiApproved{Pipeline: a.pipeline, PR: pr, Message: "try"})
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMembership refreshes the permission cache in response to GitHub's
// "membership" event (a team's membership changed), per spec.md §6's
// optional inbound webhook category. It never produces a pipeline.Event;
// it only updates a.perms, consulted on the next issue_comment.
func (a *Adapter) handleMembership(w http.ResponseWriter, body []byte) {
	var p membershipPayload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "malformed membership payload", http.StatusBadRequest)
		return
	}
	if a.perms != nil {
		if cache, ok := a.perms.(interface {
			Add(repo, user string)
			Remove(repo, user string)
		}); ok {
			switch p.Action {
			case "added":
				cache.Add(p.Organization.Login, p.Member.Login)
			case "removed":
				cache.Remove(p.Organization.Login, p.Member.Login)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) emit(e pipeline.Event) {
	select {
	case a.events <- e:
	default:
	}
}

// SendResult implements adapters.Ui. It enqueues the comment post onto the
// worker Run drains, the same non-blocking-enqueue shape as
// gitvcs.Adapter's MergeToStaging/MoveStagingToMaster, so a slow or
// rate-limited gh CLI call never stalls the dispatcher.
func (a *Adapter) SendResult(_ ids.PipelineID, pr ids.PR, status pipeline.Status) error {
	select {
	case a.results <- resultJob{pr: pr, status: status}:
		return nil
	default:
		return fmt.Errorf("githubui: result queue full")
	}
}

func formatStatus(status pipeline.Status) string {
	switch status.Kind {
	case pipeline.Approved:
		return fmt.Sprintf(":hourglass: queued %s for testing", status.PullCommit)
	case pipeline.StartingBuild:
		return fmt.Sprintf(":gear: merged to staging as %s, build starting", status.MergeCommit)
	case pipeline.Testing:
		return fmt.Sprintf(":hourglass_flowing_sand: build running for %s", status.MergeCommit)
	case pipeline.Success:
		return fmt.Sprintf(":white_check_mark: tests passed for %s", status.MergeCommit)
	case pipeline.Completed:
		return fmt.Sprintf(":rocket: %s merged", status.MergeCommit)
	case pipeline.Failure:
		msg := fmt.Sprintf(":x: build failed for %s", status.MergeCommit)
		if status.URL != "" {
			msg += " (" + status.URL + ")"
		}
		return msg
	case pipeline.Unmergeable:
		return fmt.Sprintf(":warning: %s could not be merged to staging", status.PullCommit)
	case pipeline.Unmoveable:
		return fmt.Sprintf(":warning: %s could not be fast-forwarded to the target branch", status.MergeCommit)
	case pipeline.Invalidated:
		return ":recycle: approval invalidated by a new commit"
	case pipeline.NoCommit:
		return ":grey_question: approval could not be matched to a known commit"
	default:
		return status.Message
	}
}
