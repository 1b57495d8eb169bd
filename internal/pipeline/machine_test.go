package pipeline

import (
	"testing"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/queuestore"
)

func newTestStore(t *testing.T) *queuestore.FileStore {
	t.Helper()
	store, err := queuestore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func handle(t *testing.T, store *queuestore.FileStore, pipeline ids.PipelineID, event Event, ci []ids.CiID) []Command {
	t.Helper()
	m := New()
	var cmds []Command
	err := store.Transaction(pipeline, func(tx queuestore.Tx) error {
		var err error
		cmds, err = m.Handle(tx, event, ci)
		return err
	})
	if err != nil {
		t.Fatalf("Handle(%T): %v", event, err)
	}
	return cmds
}

func findCommand[T Command](cmds []Command) (T, bool) {
	for _, c := range cmds {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// S1: open, approve, merge, single CI succeeds (caller told Success), move
// succeeds -> queue drains and the caller is told Completed.
func TestScenario_HappyPath(t *testing.T) {
	store := newTestStore(t)
	const pid ids.PipelineID = 1
	pr := ids.NewPR("42", "refs/pull/42/head")
	ci := []ids.CiID{100}

	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr, Commit: "headsha"}, ci)

	cmds := handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr}, ci)
	if _, ok := findCommand[MergeToStaging](cmds); !ok {
		t.Fatalf("expected MergeToStaging after approval+dequeue, got %#v", cmds)
	}

	cmds = handle(t, store, pid, VcsMergedToStaging{Pipeline: pid, PullCommit: "headsha", MergeCommit: "mergesha"}, ci)
	sb, ok := findCommand[StartBuild](cmds)
	if !ok || sb.CiID != 100 || sb.Commit != "mergesha" {
		t.Fatalf("expected StartBuild for ci 100, got %#v", cmds)
	}

	cmds = handle(t, store, pid, CiBuildSucceeded{Pipeline: pid, CiID: 100, Commit: "mergesha"}, ci)
	mv, ok := findCommand[MoveStagingToMaster](cmds)
	if !ok || mv.MergeCommit != "mergesha" {
		t.Fatalf("expected MoveStagingToMaster, got %#v", cmds)
	}
	if sr, ok := findCommand[SendResult](cmds); !ok || sr.Status.Kind != Success {
		t.Fatalf("expected Success result alongside the move command, got %#v", cmds)
	}

	cmds = handle(t, store, pid, VcsMovedToMaster{Pipeline: pid, MergeCommit: "mergesha"}, ci)
	sr, ok := findCommand[SendResult]((cmds))
	if !ok || sr.Status.Kind != Completed {
		t.Fatalf("expected Completed result, got %#v", cmds)
	}

	if running, ok, _ := store.PeekRunning(pid); ok {
		t.Fatalf("expected running slot empty after success, got %#v", running)
	}
}

// Multi-CI aggregation: BuiltBy only flips to Built once every bound
// channel has reported success for the same merge commit.
func TestScenario_MultiCIAggregation(t *testing.T) {
	store := newTestStore(t)
	const pid ids.PipelineID = 1
	pr := ids.NewPR("7", "refs/pull/7/head")
	ci := []ids.CiID{1, 2}

	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr, Commit: "h1"}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr}, ci)
	handle(t, store, pid, VcsMergedToStaging{Pipeline: pid, PullCommit: "h1", MergeCommit: "m1"}, ci)

	cmds := handle(t, store, pid, CiBuildSucceeded{Pipeline: pid, CiID: 1, Commit: "m1"}, ci)
	if _, ok := findCommand[MoveStagingToMaster](cmds); ok {
		t.Fatalf("move issued before all CI channels reported, got %#v", cmds)
	}
	running, ok, _ := store.PeekRunning(pid)
	if !ok || running.Built {
		t.Fatalf("running entry should not be built yet: %#v", running)
	}

	cmds = handle(t, store, pid, CiBuildSucceeded{Pipeline: pid, CiID: 2, Commit: "m1"}, ci)
	if _, ok := findCommand[MoveStagingToMaster](cmds); !ok {
		t.Fatalf("expected move once all CI channels reported, got %#v", cmds)
	}
}

// Invariant: at most one RunningEntry ever exists; a second approval queues
// behind the first instead of displacing it.
func TestInvariant_SingleRunningSlot(t *testing.T) {
	store := newTestStore(t)
	const pid ids.PipelineID = 1
	pr1 := ids.NewPR("1", "r1")
	pr2 := ids.NewPR("2", "r2")
	ci := []ids.CiID{1}

	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr1, Commit: "c1"}, ci)
	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr2, Commit: "c2"}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr1}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr2}, ci)

	running, ok, _ := store.PeekRunning(pid)
	if !ok || !running.PR.Equal(pr1) {
		t.Fatalf("expected pr1 running, got %#v", running)
	}
	queued, _ := store.ListQueue(pid)
	if len(queued) != 1 || !queued[0].PR.Equal(pr2) {
		t.Fatalf("expected pr2 queued behind pr1, got %#v", queued)
	}
}

// A new push (Changed) while an approval is queued behind an old commit
// invalidates it rather than silently testing the stale commit.
func TestChanged_InvalidatesQueuedApproval(t *testing.T) {
	store := newTestStore(t)
	const pid ids.PipelineID = 1
	pr := ids.NewPR("9", "r9")
	other := ids.NewPR("10", "r10")
	ci := []ids.CiID{1}

	handle(t, store, pid, UiOpened{Pipeline: pid, PR: other, Commit: "o1"}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: other}, ci)

	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr, Commit: "c1"}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr}, ci)

	cmds := handle(t, store, pid, UiChanged{Pipeline: pid, PR: pr, Commit: "c2"}, ci)
	sr, ok := findCommand[SendResult](cmds)
	if !ok || sr.Status.Kind != Invalidated {
		t.Fatalf("expected Invalidated result, got %#v", cmds)
	}

	queued, _ := store.ListQueue(pid)
	for _, q := range queued {
		if q.PR.Equal(pr) {
			t.Fatalf("expected pr removed from queue after invalidation, still present: %#v", queued)
		}
	}
}

// Canceling the running entry absorbs its terminal event instead of
// reporting a misleading success or failure, and the dequeue rule still
// promotes the next queued entry.
func TestCanceled_AbsorbsTerminalEvent(t *testing.T) {
	store := newTestStore(t)
	const pid ids.PipelineID = 1
	pr1 := ids.NewPR("1", "r1")
	pr2 := ids.NewPR("2", "r2")
	ci := []ids.CiID{1}

	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr1, Commit: "c1"}, ci)
	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr2, Commit: "c2"}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr1}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr2}, ci)

	if err := store.CancelByPR(pid, pr1); err != nil {
		t.Fatalf("CancelByPR: %v", err)
	}

	cmds := handle(t, store, pid, VcsMergedToStaging{Pipeline: pid, PullCommit: "c1", MergeCommit: "m1"}, ci)
	if sr, ok := findCommand[SendResult](cmds); ok && sr.PR.Equal(pr1) {
		t.Fatalf("canceled entry should not receive a SendResult, got %#v", sr)
	}
	if _, ok := findCommand[StartBuild](cmds); ok {
		t.Fatalf("canceled entry should not trigger a CI build, got %#v", cmds)
	}

	cmds = handle(t, store, pid, CiBuildFailed{Pipeline: pid, CiID: 1, Commit: "m1"}, ci)
	for _, c := range cmds {
		if sr, ok := c.(SendResult); ok && sr.PR.Equal(pr1) {
			t.Fatalf("canceled entry should not receive a failure result, got %#v", sr)
		}
	}

	mts, ok := findCommand[MergeToStaging](cmds)
	if !ok || !mts.PR.Equal(pr2) {
		t.Fatalf("expected pr2 promoted by the dequeue rule, got %#v", cmds)
	}
}

// Duplicate MergedToStaging events for the already-applied merge commit are
// idempotent no-ops (the Open Question resolution): no repeated StartBuild
// fan-out.
func TestMergedToStaging_DuplicateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	const pid ids.PipelineID = 1
	pr := ids.NewPR("5", "r5")
	ci := []ids.CiID{1, 2}

	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr, Commit: "c1"}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr}, ci)
	first := handle(t, store, pid, VcsMergedToStaging{Pipeline: pid, PullCommit: "c1", MergeCommit: "m1"}, ci)
	if len(first) != 3 { // 2 StartBuild + 1 SendResult
		t.Fatalf("expected 3 commands on first merge, got %#v", first)
	}

	dup := handle(t, store, pid, VcsMergedToStaging{Pipeline: pid, PullCommit: "c1", MergeCommit: "m1"}, ci)
	if len(dup) != 0 {
		t.Fatalf("expected duplicate MergedToStaging to be a no-op, got %#v", dup)
	}
}

// An approval pinning a commit that no longer matches the latest known
// head resolves to Invalidated per spec.md §4.2's commit-resolution
// table (row: some r, some c with r≠c -> chosen none, Invalidated), and
// the stale pending entry is left untouched rather than consumed.
func TestApproved_StaleCommitYieldsInvalidated(t *testing.T) {
	store := newTestStore(t)
	const pid ids.PipelineID = 1
	pr := ids.NewPR("3", "r3")
	ci := []ids.CiID{1}
	stale := ids.Commit("stale")

	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr, Commit: "fresh"}, ci)
	cmds := handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr, Commit: &stale}, ci)
	sr, ok := findCommand[SendResult](cmds)
	if !ok || sr.Status.Kind != Invalidated {
		t.Fatalf("expected Invalidated, got %#v", cmds)
	}
	if queued, _ := store.ListQueue(pid); len(queued) != 0 {
		t.Fatalf("expected nothing queued, got %#v", queued)
	}
	if pending, ok, _ := store.PeekPendingByPR(pid, pr); !ok || pending.Commit != "fresh" {
		t.Fatalf("expected pending entry to survive a mismatched approval, got %#v (ok=%v)", pending, ok)
	}
}

// An approval with a pinned commit but no pending entry at all still
// resolves to that commit (spec.md §4.2 table row: some r, none -> r), not
// NoCommit; NoCommit is reserved for an unpinned approval with nothing
// pending.
func TestApproved_PinnedCommitWithNoPendingStillQueues(t *testing.T) {
	store := newTestStore(t)
	const pid ids.PipelineID = 1
	pr := ids.NewPR("4", "r4")
	ci := []ids.CiID{1}
	pinned := ids.Commit("deadbeef")

	cmds := handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr, Commit: &pinned}, ci)
	sr, ok := findCommand[SendResult](cmds)
	if !ok || sr.Status.Kind != Approved || sr.Status.PullCommit != pinned {
		t.Fatalf("expected Approved for pinned commit with no pending entry, got %#v", cmds)
	}
}

// A re-approval of the same pr while a prior approval is still queued
// cancels the stale queue entry per "With chosen commit c: cancel_by_pr(pr);
// push_queue({c, pr, msg})" — re-approval supersedes, it does not duplicate.
func TestApproved_SupersedesPriorQueueEntry(t *testing.T) {
	store := newTestStore(t)
	const pid ids.PipelineID = 1
	pr := ids.NewPR("6", "r6")
	blocker := ids.NewPR("99", "r99")
	blockerCommit := ids.Commit("blocker-head")
	c1, c2 := ids.Commit("c1"), ids.Commit("c2")
	ci := []ids.CiID{1}

	// Occupy the running slot so approvals for pr stay queued instead of
	// being promoted immediately.
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: blocker, Commit: &blockerCommit, Message: "blocker"}, ci)

	// Two pinned-commit approvals for pr in a row, with no Changed event
	// between them: the second must supersede the first via handleApproved's
	// own cancel_by_pr(pr), not rely on drift cancellation.
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr, Commit: &c1, Message: "first"}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr, Commit: &c2, Message: "second"}, ci)

	queued, _ := store.ListQueue(pid)
	var forPR []QueueEntryCommit
	for _, q := range queued {
		if q.PR.Equal(pr) {
			forPR = append(forPR, QueueEntryCommit{Commit: q.Commit, Message: q.Message})
		}
	}
	if len(forPR) != 1 || forPR[0].Commit != "c2" {
		t.Fatalf("expected exactly one superseding queue entry at c2, got %#v", forPR)
	}
}

// QueueEntryCommit is a tiny projection used only to assert on
// queuestore.QueueEntry's Commit/Message fields above.
type QueueEntryCommit struct {
	Commit  ids.Commit
	Message string
}

// A merge_to_staging failure dequeues the next waiting entry instead of
// leaving the slot stuck.
func TestFailedMergeToStaging_Dequeues(t *testing.T) {
	store := newTestStore(t)
	const pid ids.PipelineID = 1
	pr1 := ids.NewPR("1", "r1")
	pr2 := ids.NewPR("2", "r2")
	ci := []ids.CiID{1}

	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr1, Commit: "c1"}, ci)
	handle(t, store, pid, UiOpened{Pipeline: pid, PR: pr2, Commit: "c2"}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr1}, ci)
	handle(t, store, pid, UiApproved{Pipeline: pid, PR: pr2}, ci)

	cmds := handle(t, store, pid, VcsFailedMergeToStaging{Pipeline: pid, PullCommit: "c1"}, ci)
	sr, ok := findCommand[SendResult](cmds)
	if !ok || sr.Status.Kind != Unmergeable {
		t.Fatalf("expected Unmergeable, got %#v", cmds)
	}
	mts, ok := findCommand[MergeToStaging](cmds)
	if !ok || !mts.PR.Equal(pr2) {
		t.Fatalf("expected pr2 dequeued after failure, got %#v", cmds)
	}
}
