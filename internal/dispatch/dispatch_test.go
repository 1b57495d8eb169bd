package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/lucasnoah/aelitaqueue/internal/adapters"
	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/log"
	"github.com/lucasnoah/aelitaqueue/internal/pipeline"
	"github.com/lucasnoah/aelitaqueue/internal/queuestore"
	"github.com/lucasnoah/aelitaqueue/internal/ratelimit"
)

type fakeUi struct {
	mu      sync.Mutex
	results []pipeline.Status
}

func (f *fakeUi) SendResult(_ ids.PipelineID, _ ids.PR, status pipeline.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, status)
	return nil
}

type fakeVcs struct {
	mu     sync.Mutex
	merges []ids.Commit
	moves  []ids.Commit
}

func (f *fakeVcs) MergeToStaging(_ ids.PipelineID, _ ids.PR, pullCommit ids.Commit, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges = append(f.merges, pullCommit)
	return nil
}

func (f *fakeVcs) MoveStagingToMaster(_ ids.PipelineID, mergeCommit ids.Commit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, mergeCommit)
	return nil
}

type fakeCi struct {
	mu      sync.Mutex
	started []ids.Commit
}

func (f *fakeCi) StartBuild(_ ids.PipelineID, _ ids.CiID, commit ids.Commit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, commit)
	return nil
}

func newTestDispatcher(t *testing.T, ci ids.CiID) (*Dispatcher, *fakeUi, *fakeVcs, *fakeCi, ids.PipelineID) {
	t.Helper()
	store, err := queuestore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	const pid ids.PipelineID = 1
	ui := &fakeUi{}
	vcs := &fakeVcs{}
	c := &fakeCi{}
	bindings := map[ids.PipelineID]Binding{
		pid: {
			Pipeline:   pid,
			Ui:         ui,
			Vcs:        vcs,
			Ci:         map[ids.CiID]adapters.Ci{ci: c},
			CiChannels: []ids.CiID{ci},
		},
	}
	d := New(store, bindings, nil, ratelimit.New(), log.Discard())
	return d, ui, vcs, c, pid
}

// TestDispatcher_HappyPath drives spec.md §8 scenario S1 end to end through
// the real state machine and a FileStore-backed queue, verifying the
// dispatcher routes every command to the right fake adapter.
func TestDispatcher_HappyPath(t *testing.T) {
	const ciID ids.CiID = 100
	d, ui, vcs, ci, pid := newTestDispatcher(t, ciID)
	ctx := context.Background()
	pr := ids.NewPR("1", "refs/pull/1/head")

	d.handle(ctx, pipeline.UiOpened{Pipeline: pid, PR: pr, Commit: "head"})
	d.handle(ctx, pipeline.UiApproved{Pipeline: pid, PR: pr})

	if len(vcs.merges) != 1 || vcs.merges[0] != "head" {
		t.Fatalf("expected one merge_to_staging for head, got %#v", vcs.merges)
	}

	d.handle(ctx, pipeline.VcsMergedToStaging{Pipeline: pid, PullCommit: "head", MergeCommit: "merged"})
	if len(ci.started) != 1 || ci.started[0] != "merged" {
		t.Fatalf("expected one start_build for merged, got %#v", ci.started)
	}

	d.handle(ctx, pipeline.CiBuildSucceeded{Pipeline: pid, CiID: ciID, Commit: "merged"})
	if len(vcs.moves) != 1 || vcs.moves[0] != "merged" {
		t.Fatalf("expected one move_staging_to_master for merged, got %#v", vcs.moves)
	}

	d.handle(ctx, pipeline.VcsMovedToMaster{Pipeline: pid, MergeCommit: "merged"})

	ui.mu.Lock()
	defer ui.mu.Unlock()
	if len(ui.results) == 0 || ui.results[len(ui.results)-1].Kind != pipeline.Completed {
		t.Fatalf("expected final status Completed, got %#v", ui.results)
	}
}

// TestDispatcher_UnboundPipelineIsDropped exercises the "unbound pipeline"
// guard without panicking.
func TestDispatcher_UnboundPipelineIsDropped(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t, 1)
	d.handle(context.Background(), pipeline.UiOpened{Pipeline: 999, PR: ids.NewPR("1", "r"), Commit: "c"})
}
