package cli

import (
	"testing"

	"github.com/lucasnoah/aelitaqueue/internal/adapters/permcache"
	"github.com/lucasnoah/aelitaqueue/internal/config"
	"github.com/lucasnoah/aelitaqueue/internal/log"
	"github.com/lucasnoah/aelitaqueue/internal/ratelimit"
)

func TestBuildFleet_UnsupportedUiType(t *testing.T) {
	pipelines := []config.PipelineConfig{{
		ID:   1,
		Name: "widgets",
		Repo: "octo/widgets",
		Ui:   config.AdapterConfig{Type: "gitlab"},
		Vcs:  config.AdapterConfig{Type: "git"},
	}}

	_, err := buildFleet(pipelines, ratelimit.New(), permcache.New(), log.Discard())
	if err == nil {
		t.Fatal("expected error for unsupported ui type")
	}
}

func TestBuildFleet_GithubPipelineWiresBindings(t *testing.T) {
	pipelines := []config.PipelineConfig{{
		ID:   1,
		Name: "widgets",
		Repo: "octo/widgets",
		Ui:   config.AdapterConfig{Type: "github", Listen: ":9001"},
		Vcs:  config.AdapterConfig{Type: "git", Remote: "origin", StagingBranch: "staging", MasterBranch: "master"},
		Ci: []config.CiChannelConfig{
			{ID: 1, Type: "github", Context: "ci/widgets", Listen: ":9001"},
			{ID: 2, Type: "buildbot", Listen: ":9002"},
		},
	}}

	f, err := buildFleet(pipelines, ratelimit.New(), permcache.New(), log.Discard())
	if err != nil {
		t.Fatalf("buildFleet: %v", err)
	}

	binding, ok := f.bindings[1]
	if !ok {
		t.Fatal("expected binding for pipeline 1")
	}
	if len(binding.Ci) != 2 || len(binding.CiChannels) != 2 {
		t.Fatalf("expected two bound ci channels, got %#v", binding)
	}
	if len(f.servers) != 1 {
		t.Fatalf("expected ui and github-ci to share one listener on :9001, got %d servers", len(f.servers))
	}
	if len(f.listeners) != 1 {
		t.Fatalf("expected one raw buildbot listener, got %d", len(f.listeners))
	}
	if len(f.runners) != 1 {
		t.Fatalf("expected one gitvcs runner, got %d", len(f.runners))
	}
}
