// Package githubci implements adapters.Ci against GitHub's commit-status
// webhook, matching spec.md §6's "status" event shape
// (state ∈ {pending, success, failure, error}, sha, context, target_url).
package githubci

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/pipeline"
)

type statusPayload struct {
	State     string `json:"state"`
	Sha       string `json:"sha"`
	Context   string `json:"context"`
	TargetURL string `json:"target_url"`
}

// Adapter is a Ci backed by GitHub commit statuses. StartBuild is a no-op:
// pushing the merge commit to the staging branch (performed by the Vcs
// adapter) is what triggers GitHub Actions / external CI in this mode, per
// spec.md §4.4's push-trigger-free allowance.
type Adapter struct {
	pipeline ids.PipelineID
	ciID     ids.CiID
	context  string // the "context" value that identifies this CI channel
	events   chan pipeline.Event
}

// New returns an Adapter reporting build status for ciID, filtering
// incoming statuses to those whose "context" matches statusContext.
func New(pipelineID ids.PipelineID, ciID ids.CiID, statusContext string) *Adapter {
	return &Adapter{pipeline: pipelineID, ciID: ciID, context: statusContext, events: make(chan pipeline.Event, 64)}
}

// Events implements adapters.EventSource.
func (a *Adapter) Events() <-chan pipeline.Event { return a.events }

// StartBuild implements adapters.Ci as a no-op.
func (a *Adapter) StartBuild(ids.PipelineID, ids.CiID, ids.Commit) error { return nil }

// ServeHTTP handles one "status" webhook delivery.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var p statusPayload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "malformed status payload", http.StatusBadRequest)
		return
	}
	if p.Context != a.context {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	commit := ids.Commit(p.Sha)
	switch p.State {
	case "pending":
		a.emit(pipeline.CiBuildStarted{Pipeline: a.pipeline, CiID: a.ciID, Commit: commit})
	case "success":
		a.emit(pipeline.CiBuildSucceeded{Pipeline: a.pipeline, CiID: a.ciID, Commit: commit, URL: nonEmpty(p.TargetURL)})
	case "failure", "error":
		a.emit(pipeline.CiBuildFailed{Pipeline: a.pipeline, CiID: a.ciID, Commit: commit, URL: nonEmpty(p.TargetURL)})
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (a *Adapter) emit(e pipeline.Event) {
	select {
	case a.events <- e:
	default:
	}
}
