// Package pipeline implements the per-pipeline event-driven state machine:
// the only component that mutates the queue store in response to events,
// and the only component that issues outbound commands. It is stateless
// across events — all state lives in the queue store — so Machine.Handle
// takes the transactional store view and returns the commands to issue.
package pipeline

import "github.com/lucasnoah/aelitaqueue/internal/ids"

// Event is the tagged union of everything the state machine consumes:
// Ui, Vcs, and Ci events, each carrying the PipelineID it targets.
type Event interface {
	PipelineID() ids.PipelineID
}

// UiOpened is emitted when a review series is opened or reopened.
type UiOpened struct {
	Pipeline ids.PipelineID
	PR       ids.PR
	Commit   ids.Commit
	Title    string
	URL      string
}

func (e UiOpened) PipelineID() ids.PipelineID { return e.Pipeline }

// UiChanged is emitted when a review series' head commit moves (e.g. a
// "synchronize" webhook after a new push).
type UiChanged struct {
	Pipeline ids.PipelineID
	PR       ids.PR
	Commit   ids.Commit
	Title    string
	URL      string
}

func (e UiChanged) PipelineID() ids.PipelineID { return e.Pipeline }

// UiClosed is emitted when a review series is closed without merging.
type UiClosed struct {
	Pipeline ids.PipelineID
	PR       ids.PR
}

func (e UiClosed) PipelineID() ids.PipelineID { return e.Pipeline }

// UiCanceled is emitted by an explicit reviewer cancel command (e.g. "r-"
// or "try-").
type UiCanceled struct {
	Pipeline ids.PipelineID
	PR       ids.PR
}

func (e UiCanceled) PipelineID() ids.PipelineID { return e.Pipeline }

// UiApproved is emitted when a reviewer approves a series. Commit is nil
// when the reviewer accepted whatever is currently pending rather than
// pinning a specific one.
type UiApproved struct {
	Pipeline ids.PipelineID
	PR       ids.PR
	Commit   *ids.Commit
	Message  string
}

func (e UiApproved) PipelineID() ids.PipelineID { return e.Pipeline }

// VcsMergedToStaging is emitted when merge_to_staging succeeds.
type VcsMergedToStaging struct {
	Pipeline    ids.PipelineID
	PullCommit  ids.Commit
	MergeCommit ids.Commit
}

func (e VcsMergedToStaging) PipelineID() ids.PipelineID { return e.Pipeline }

// VcsFailedMergeToStaging is emitted when merge_to_staging fails (conflict,
// permission, ...).
type VcsFailedMergeToStaging struct {
	Pipeline   ids.PipelineID
	PullCommit ids.Commit
}

func (e VcsFailedMergeToStaging) PipelineID() ids.PipelineID { return e.Pipeline }

// VcsMovedToMaster is emitted when move_staging_to_master succeeds.
type VcsMovedToMaster struct {
	Pipeline    ids.PipelineID
	MergeCommit ids.Commit
}

func (e VcsMovedToMaster) PipelineID() ids.PipelineID { return e.Pipeline }

// VcsFailedMoveToMaster is emitted when move_staging_to_master fails (e.g.
// the protected branch moved out from under the fast-forward).
type VcsFailedMoveToMaster struct {
	Pipeline    ids.PipelineID
	MergeCommit ids.Commit
}

func (e VcsFailedMoveToMaster) PipelineID() ids.PipelineID { return e.Pipeline }

// CiBuildStarted is emitted when a bound CI channel acknowledges a build
// has begun.
type CiBuildStarted struct {
	Pipeline ids.PipelineID
	CiID     ids.CiID
	Commit   ids.Commit
	URL      *string
}

func (e CiBuildStarted) PipelineID() ids.PipelineID { return e.Pipeline }

// CiBuildFailed is emitted when a bound CI channel reports failure.
type CiBuildFailed struct {
	Pipeline ids.PipelineID
	CiID     ids.CiID
	Commit   ids.Commit
	URL      *string
}

func (e CiBuildFailed) PipelineID() ids.PipelineID { return e.Pipeline }

// CiBuildSucceeded is emitted when a bound CI channel reports success.
type CiBuildSucceeded struct {
	Pipeline ids.PipelineID
	CiID     ids.CiID
	Commit   ids.Commit
	URL      *string
}

func (e CiBuildSucceeded) PipelineID() ids.PipelineID { return e.Pipeline }
