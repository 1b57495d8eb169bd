// Package buildbotci implements adapters.Ci against a raw TCP endpoint
// receiving newline-delimited JSON build notifications, matching spec.md
// §6's "phase ∈ {STARTED, COMPLETED}" shape. Supplemented from
// original_source/src/ci/buildbot.rs, whose Worker listens for pushed
// status notifications (there over HTTP via the HttpStatusPush plugin,
// via hyper's HttpListener) rather than polling; this adapter keeps that
// push shape but over the raw TCP listener spec.md actually asks for.
package buildbotci

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/log"
	"github.com/lucasnoah/aelitaqueue/internal/pipeline"
)

// notification is one line of the buildbot wire format.
type notification struct {
	Phase  string `json:"phase"`
	Status string `json:"status"`
	Scm    struct {
		Commit string `json:"commit"`
	} `json:"scm"`
}

// StartBuild for buildbot is a no-op: the CI system auto-triggers off the
// staging branch update performed by the Vcs adapter, matching spec.md
// §4.4's allowance for a push-trigger-free Ci implementation.
type Adapter struct {
	pipeline ids.PipelineID
	ciID     ids.CiID
	logger   *log.Logger
	events   chan pipeline.Event
}

// New returns an Adapter reporting build status for ciID within pipelineID.
func New(pipelineID ids.PipelineID, ciID ids.CiID, logger *log.Logger) *Adapter {
	return &Adapter{pipeline: pipelineID, ciID: ciID, logger: logger, events: make(chan pipeline.Event, 64)}
}

// Events implements adapters.EventSource.
func (a *Adapter) Events() <-chan pipeline.Event { return a.events }

// StartBuild implements adapters.Ci as a no-op; buildbot's poller
// auto-triggers off the branch update the Vcs adapter already pushed.
func (a *Adapter) StartBuild(ids.PipelineID, ids.CiID, ids.Commit) error { return nil }

// Listen accepts raw TCP connections on lis until it is closed, translating
// each newline-delimited JSON notification into a pipeline.Event.
func (a *Adapter) Listen(lis net.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			return fmt.Errorf("buildbotci: accept: %w", err)
		}
		go a.handleConn(conn)
	}
}

func (a *Adapter) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var n notification
		if err := json.Unmarshal(scanner.Bytes(), &n); err != nil {
			a.logger.Warn("buildbotci: malformed notification", "error", err.Error())
			continue
		}
		a.handleNotification(n)
	}
}

func (a *Adapter) handleNotification(n notification) {
	commit := ids.Commit(n.Scm.Commit)
	switch n.Phase {
	case "STARTED":
		a.emit(pipeline.CiBuildStarted{Pipeline: a.pipeline, CiID: a.ciID, Commit: commit})
	case "COMPLETED":
		if n.Status == "SUCCESS" || n.Status == "success" {
			a.emit(pipeline.CiBuildSucceeded{Pipeline: a.pipeline, CiID: a.ciID, Commit: commit})
		} else {
			a.emit(pipeline.CiBuildFailed{Pipeline: a.pipeline, CiID: a.ciID, Commit: commit})
		}
	default:
		a.logger.Warn("buildbotci: unrecognized phase", "phase", n.Phase)
	}
}

func (a *Adapter) emit(e pipeline.Event) {
	select {
	case a.events <- e:
	default:
	}
}
