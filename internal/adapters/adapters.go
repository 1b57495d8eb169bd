// Package adapters defines the capability interfaces the pipeline state
// machine is polymorphic over (spec.md §4.4): a review surface (Ui), a CI
// runner (Ci), and a VCS (Vcs). Concrete implementations live in
// subpackages (githubui, githubci, buildbotci, gitvcs); this package only
// holds the contracts and the errors that distinguish how a failure routes
// back into the state machine.
package adapters

import (
	"errors"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/pipeline"
)

// ErrPermanent marks an outbound call as having failed for a reason no
// retry will fix (4xx other than rate limiting, a rejected fast-forward,
// ...). No adapter in this module returns or checks it: gitvcs and
// githubui retry every failed call until the backoff budget is spent.
var ErrPermanent = errors.New("adapters: permanent remote error")

// Ui is the review-surface capability. Outbound calls are non-blocking
// enqueues onto the adapter's own command channel; the adapter's worker
// goroutine performs the actual API call (subject to the shared
// ratelimit.Limiter) and emits the corresponding pipeline.Event on failure
// or success where spec.md requires one.
//
// Implementations are responsible for authenticating the commenter and
// checking write permission before ever producing an Approved event; the
// state machine assumes that check already happened.
type Ui interface {
	SendResult(pipeline ids.PipelineID, pr ids.PR, status pipeline.Status) error
}

// Ci is the continuous-integration capability. StartBuild may be a no-op
// for implementations that rely on the VCS branch update to auto-trigger a
// build (e.g. a CI system watching the staging branch directly).
type Ci interface {
	StartBuild(pipelineID ids.PipelineID, ciID ids.CiID, commit ids.Commit) error
}

// Vcs is the version-control capability. MergeToStaging must produce a
// merge commit whose first parent is the current staging tip and whose
// message is the provided string; MoveStagingToMaster must fast-forward
// the protected branch to mergeCommit or report failure.
type Vcs interface {
	MergeToStaging(pipelineID ids.PipelineID, pr ids.PR, pullCommit ids.Commit, message string) error
	MoveStagingToMaster(pipelineID ids.PipelineID, mergeCommit ids.Commit) error
}

// EventSource is implemented by every adapter worker: it exposes the
// channel of pipeline.Event values it produces from inbound webhooks or
// connections. The dispatcher fans these in from every configured adapter.
type EventSource interface {
	Events() <-chan pipeline.Event
}
