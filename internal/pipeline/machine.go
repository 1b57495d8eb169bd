package pipeline

import (
	"fmt"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/queuestore"
)

// Machine holds no state of its own; every event is handled against the
// queuestore.Tx handed to it by the dispatcher's Store.Transaction, and
// every decision it makes is a pure function of what that Tx reports back.
// This mirrors the Rust original's Pipeline::handle_event, which takes
// &mut PipelineData for exactly one event and returns the list of actions
// to perform.
type Machine struct{}

// New returns a ready-to-use Machine.
func New() *Machine { return &Machine{} }

// Handle applies event against tx and returns the commands the caller must
// issue as a result, in order. ciChannels lists the CI channels currently
// bound to the pipeline; it drives the fan-out of StartBuild commands and
// the "built" aggregation across them. Handle always finishes by applying
// the dequeue rule: if the running slot is empty and the queue is
// non-empty, the head of the queue is promoted into it and a
// MergeToStaging command is appended.
func (m *Machine) Handle(tx queuestore.Tx, event Event, ciChannels []ids.CiID) ([]Command, error) {
	pipeline := event.PipelineID()

	var cmds []Command
	var err error
	switch e := event.(type) {
	case UiOpened:
		err = tx.AddPending(queuestore.PendingEntry{PR: e.PR, Commit: e.Commit, Title: e.Title, URL: e.URL})
	case UiChanged:
		cmds, err = m.handleChanged(tx, pipeline, e)
	case UiClosed:
		if _, _, err = tx.TakePendingByPR(e.PR); err == nil {
			err = tx.CancelByPR(e.PR)
		}
	case UiCanceled:
		err = tx.CancelByPR(e.PR)
	case UiApproved:
		cmds, err = m.handleApproved(tx, pipeline, e)
	case VcsMergedToStaging:
		cmds, err = m.handleMergedToStaging(tx, pipeline, e, ciChannels)
	case VcsFailedMergeToStaging:
		cmds, err = m.handleFailedMergeToStaging(tx, pipeline, e)
	case VcsMovedToMaster:
		cmds, err = m.handleMovedToMaster(tx, pipeline, e)
	case VcsFailedMoveToMaster:
		cmds, err = m.handleFailedMoveToMaster(tx, pipeline, e)
	case CiBuildStarted:
		cmds, err = m.handleBuildStarted(tx, pipeline, e)
	case CiBuildFailed:
		cmds, err = m.handleBuildFailed(tx, pipeline, e)
	case CiBuildSucceeded:
		cmds, err = m.handleBuildSucceeded(tx, pipeline, e, ciChannels)
	default:
		return nil, fmt.Errorf("pipeline: unhandled event type %T", event)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: handle %T: %w", event, err)
	}

	dequeued, err := m.dequeue(tx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("pipeline: dequeue after %T: %w", event, err)
	}
	cmds = append(cmds, dequeued...)
	return cmds, nil
}

// handleChanged implements cancel_by_pr_different_commit: a new head commit
// invalidates any queued or running entry for the same PR still pinned to
// the old commit, and replaces the pending entry so a later approval
// resolves against the new head.
func (m *Machine) handleChanged(tx queuestore.Tx, pipeline ids.PipelineID, e UiChanged) ([]Command, error) {
	canceled, err := tx.CancelByPRDifferentCommit(e.PR, e.Commit)
	if err != nil {
		return nil, err
	}
	if err := tx.AddPending(queuestore.PendingEntry{PR: e.PR, Commit: e.Commit, Title: e.Title, URL: e.URL}); err != nil {
		return nil, err
	}
	if !canceled {
		return nil, nil
	}
	return []Command{SendResult{
		Pipeline: pipeline,
		PR:       e.PR,
		Status:   Status{Kind: Invalidated, PullCommit: e.Commit, Message: "superseded by a new commit"},
	}}, nil
}

// handleApproved resolves the commit-resolution table of spec.md §4.2
// exactly:
//
//	reviewed commit | pending commit | chosen | side effect
//	some r          | some c, r≠c    | none   | Invalidated
//	some r          | some c, r=c    | r      | —
//	some r          | none           | r      | —
//	none            | some c         | c      | —
//	none            | none           | none   | NoCommit
//
// A resolved commit is always pushed behind cancel_by_pr(pr), so a prior
// approval still queued or running for the same pr is superseded rather
// than left to race the new one. A pending entry is consumed only when it
// actually supplied the chosen commit (rows 2 and 4); row 1's stale
// pending entry is left in place since it still reflects the real head.
func (m *Machine) handleApproved(tx queuestore.Tx, pipeline ids.PipelineID, e UiApproved) ([]Command, error) {
	pending, hasPending, err := tx.PeekPendingByPR(e.PR)
	if err != nil {
		return nil, err
	}

	var chosen ids.Commit
	consumePending := false

	switch {
	case e.Commit != nil && hasPending && *e.Commit != pending.Commit:
		return []Command{SendResult{
			Pipeline: pipeline,
			PR:       e.PR,
			Status:   Status{Kind: Invalidated, PullCommit: *e.Commit, Message: "approved commit is no longer the latest head"},
		}}, nil
	case e.Commit != nil && hasPending:
		chosen, consumePending = *e.Commit, true
	case e.Commit != nil && !hasPending:
		chosen = *e.Commit
	case e.Commit == nil && hasPending:
		chosen, consumePending = pending.Commit, true
	default: // e.Commit == nil && !hasPending
		return []Command{SendResult{
			Pipeline: pipeline,
			PR:       e.PR,
			Status:   Status{Kind: NoCommit, Message: "approved before the pull request was observed"},
		}}, nil
	}

	if consumePending {
		if _, _, err := tx.TakePendingByPR(e.PR); err != nil {
			return nil, err
		}
	}
	if err := tx.CancelByPR(e.PR); err != nil {
		return nil, err
	}
	if err := tx.PushQueue(queuestore.QueueEntry{PR: e.PR, Commit: chosen, Message: e.Message}); err != nil {
		return nil, err
	}
	return []Command{SendResult{
		Pipeline: pipeline,
		PR:       e.PR,
		Status:   Status{Kind: Approved, PullCommit: chosen},
	}}, nil
}

// handleMergedToStaging implements the re-acceptance Open Question as an
// idempotent no-op: a duplicate event reporting the same merge commit the
// running entry already holds changes nothing and issues no further
// commands, rather than re-dispatching StartBuild to every bound channel a
// second time.
func (m *Machine) handleMergedToStaging(tx queuestore.Tx, pipeline ids.PipelineID, e VcsMergedToStaging, ciChannels []ids.CiID) ([]Command, error) {
	running, ok, err := tx.PeekRunning()
	if err != nil {
		return nil, err
	}
	if !ok || running.PullCommit != e.PullCommit {
		return nil, nil
	}
	if running.HasMergeCommit() && running.MergeCommit == e.MergeCommit {
		return nil, nil
	}

	running.MergeCommit = e.MergeCommit
	running.Built = false
	running.BuiltBy = make(map[ids.CiID]bool, len(ciChannels))
	if err := tx.PutRunning(running); err != nil {
		return nil, err
	}

	// A canceled entry absorbs and discards all further build/merge/move
	// outcomes (invariant 5): no CI build is started for work the reviewer
	// already canceled, matching the same gate handleBuildSucceeded uses
	// before issuing MoveStagingToMaster.
	if running.Canceled {
		return nil, nil
	}

	// With no CI channels bound the merge counts as built straight away.
	if len(ciChannels) == 0 {
		running.Built = true
		if err := tx.PutRunning(running); err != nil {
			return nil, err
		}
		return []Command{
			MoveStagingToMaster{Pipeline: pipeline, MergeCommit: e.MergeCommit},
			SendResult{Pipeline: pipeline, PR: running.PR, Status: Status{Kind: Success, PullCommit: e.PullCommit, MergeCommit: e.MergeCommit}},
		}, nil
	}

	cmds := make([]Command, 0, len(ciChannels)+1)
	for _, ci := range ciChannels {
		cmds = append(cmds, StartBuild{Pipeline: pipeline, CiID: ci, Commit: e.MergeCommit})
	}
	cmds = append(cmds, SendResult{
		Pipeline: pipeline,
		PR:       running.PR,
		Status:   Status{Kind: StartingBuild, PullCommit: e.PullCommit, MergeCommit: e.MergeCommit},
	})
	return cmds, nil
}

func (m *Machine) handleFailedMergeToStaging(tx queuestore.Tx, pipeline ids.PipelineID, e VcsFailedMergeToStaging) ([]Command, error) {
	running, ok, err := tx.PeekRunning()
	if err != nil {
		return nil, err
	}
	if !ok || running.PullCommit != e.PullCommit || running.HasMergeCommit() {
		return nil, nil
	}
	if _, _, err := tx.TakeRunning(); err != nil {
		return nil, err
	}
	if running.Canceled {
		return nil, nil
	}
	return []Command{SendResult{
		Pipeline: pipeline,
		PR:       running.PR,
		Status:   Status{Kind: Unmergeable, PullCommit: e.PullCommit},
	}}, nil
}

func (m *Machine) handleBuildStarted(tx queuestore.Tx, pipeline ids.PipelineID, e CiBuildStarted) ([]Command, error) {
	running, ok, err := tx.PeekRunning()
	if err != nil {
		return nil, err
	}
	if !ok || running.MergeCommit != e.Commit || running.Built || running.Canceled {
		return nil, nil
	}
	return []Command{SendResult{
		Pipeline: pipeline,
		PR:       running.PR,
		Status:   Status{Kind: Testing, MergeCommit: e.Commit},
	}}, nil
}

func (m *Machine) handleBuildFailed(tx queuestore.Tx, pipeline ids.PipelineID, e CiBuildFailed) ([]Command, error) {
	running, ok, err := tx.PeekRunning()
	if err != nil {
		return nil, err
	}
	if !ok || running.MergeCommit != e.Commit || running.Built {
		return nil, nil
	}
	if _, _, err := tx.TakeRunning(); err != nil {
		return nil, err
	}
	if running.Canceled {
		return nil, nil
	}
	url := ""
	if e.URL != nil {
		url = *e.URL
	}
	return []Command{SendResult{
		Pipeline: pipeline,
		PR:       running.PR,
		Status:   Status{Kind: Failure, MergeCommit: e.Commit, URL: url},
	}}, nil
}

// handleBuildSucceeded tallies e.CiID into BuiltBy and, once every bound
// channel has reported success for the current merge commit, moves the
// running entry to "built" and issues the move-to-master command (or
// absorbs the completion silently if the entry was canceled meanwhile).
func (m *Machine) handleBuildSucceeded(tx queuestore.Tx, pipeline ids.PipelineID, e CiBuildSucceeded, ciChannels []ids.CiID) ([]Command, error) {
	running, ok, err := tx.PeekRunning()
	if err != nil {
		return nil, err
	}
	if !ok || running.MergeCommit != e.Commit || running.Built {
		return nil, nil
	}

	if running.BuiltBy == nil {
		running.BuiltBy = make(map[ids.CiID]bool, len(ciChannels))
	}
	running.BuiltBy[e.CiID] = true

	allBuilt := true
	for _, ci := range ciChannels {
		if !running.BuiltBy[ci] {
			allBuilt = false
			break
		}
	}

	if !allBuilt {
		if err := tx.PutRunning(running); err != nil {
			return nil, err
		}
		return nil, nil
	}

	running.Built = true
	if running.Canceled {
		if _, _, err := tx.TakeRunning(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := tx.PutRunning(running); err != nil {
		return nil, err
	}
	return []Command{
		MoveStagingToMaster{Pipeline: pipeline, MergeCommit: e.Commit},
		SendResult{
			Pipeline: pipeline,
			PR:       running.PR,
			Status:   Status{Kind: Success, PullCommit: running.PullCommit, MergeCommit: e.Commit},
		},
	}, nil
}

func (m *Machine) handleMovedToMaster(tx queuestore.Tx, pipeline ids.PipelineID, e VcsMovedToMaster) ([]Command, error) {
	running, ok, err := tx.PeekRunning()
	if err != nil {
		return nil, err
	}
	if !ok || running.MergeCommit != e.MergeCommit || !running.Built {
		return nil, nil
	}
	if _, _, err := tx.TakeRunning(); err != nil {
		return nil, err
	}
	if running.Canceled {
		return nil, nil
	}
	return []Command{SendResult{
		Pipeline: pipeline,
		PR:       running.PR,
		Status:   Status{Kind: Completed, PullCommit: running.PullCommit, MergeCommit: e.MergeCommit},
	}}, nil
}

func (m *Machine) handleFailedMoveToMaster(tx queuestore.Tx, pipeline ids.PipelineID, e VcsFailedMoveToMaster) ([]Command, error) {
	running, ok, err := tx.PeekRunning()
	if err != nil {
		return nil, err
	}
	if !ok || running.MergeCommit != e.MergeCommit || !running.Built {
		return nil, nil
	}
	if _, _, err := tx.TakeRunning(); err != nil {
		return nil, err
	}
	if running.Canceled {
		return nil, nil
	}
	return []Command{SendResult{
		Pipeline: pipeline,
		PR:       running.PR,
		Status:   Status{Kind: Unmoveable, MergeCommit: e.MergeCommit},
	}}, nil
}

// dequeue runs after every handled event: whenever the running slot is
// empty and the queue is non-empty, the head of the queue is promoted into
// it and a MergeToStaging command is issued. At most one RunningEntry can
// ever exist per pipeline, so this check is always safe to make
// unconditionally.
func (m *Machine) dequeue(tx queuestore.Tx, pipeline ids.PipelineID) ([]Command, error) {
	if _, ok, err := tx.PeekRunning(); err != nil {
		return nil, err
	} else if ok {
		return nil, nil
	}

	head, ok, err := tx.PopQueue()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	entry := queuestore.RunningEntry{
		PR:         head.PR,
		PullCommit: head.Commit,
		Message:    head.Message,
	}
	if err := tx.PutRunning(entry); err != nil {
		return nil, err
	}
	return []Command{MergeToStaging{Pipeline: pipeline, PR: head.PR, PullCommit: head.Commit, Message: head.Message}}, nil
}
