package statusview

import (
	"github.com/lucasnoah/aelitaqueue/internal/config"
	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/queuestore"
)

// PipelineRow is one row of the dashboard's pipeline summary table.
type PipelineRow struct {
	ID           ids.PipelineID
	Name         string
	Repo         string
	RunningPR    string
	RunningPhase string // "merging", "testing", "moving", "idle", "canceled"
	QueueLen     int
	PendingLen   int
}

// QueueRow is one entry of a pipeline's queued-but-not-running list.
type QueueRow struct {
	Position int
	PR       string
	Commit   string
	Message  string
}

// PendingRow is one entry of a pipeline's approved-not-yet pending list.
type PendingRow struct {
	PR     string
	Commit string
	Title  string
	URL    string
}

// PipelineDetail is the view model for a single pipeline's detail page.
type PipelineDetail struct {
	PipelineRow
	Queue   []QueueRow
	Pending []PendingRow
}

func runningPhase(r queuestore.RunningEntry, hasRunning bool) string {
	switch {
	case !hasRunning:
		return "idle"
	case r.Canceled:
		return "canceled"
	case !r.HasMergeCommit():
		return "merging"
	case !r.Built:
		return "testing"
	default:
		return "moving"
	}
}

func buildPipelineRow(store queuestore.Store, cfg config.PipelineConfig) (PipelineRow, error) {
	id := ids.PipelineID(cfg.ID)
	row := PipelineRow{ID: id, Name: cfg.Name, Repo: cfg.Repo, RunningPhase: "idle"}

	running, hasRunning, err := store.PeekRunning(id)
	if err != nil {
		return row, err
	}
	if hasRunning {
		row.RunningPR = running.PR.String()
	}
	row.RunningPhase = runningPhase(running, hasRunning)

	queue, err := store.ListQueue(id)
	if err != nil {
		return row, err
	}
	row.QueueLen = len(queue)

	pending, err := store.ListPending(id)
	if err != nil {
		return row, err
	}
	row.PendingLen = len(pending)

	return row, nil
}

func buildPipelineDetail(store queuestore.Store, cfg config.PipelineConfig) (PipelineDetail, error) {
	row, err := buildPipelineRow(store, cfg)
	if err != nil {
		return PipelineDetail{}, err
	}
	detail := PipelineDetail{PipelineRow: row}

	id := ids.PipelineID(cfg.ID)
	queue, err := store.ListQueue(id)
	if err != nil {
		return detail, err
	}
	for i, e := range queue {
		detail.Queue = append(detail.Queue, QueueRow{
			Position: i + 1,
			PR:       e.PR.String(),
			Commit:   e.Commit.String(),
			Message:  e.Message,
		})
	}

	pending, err := store.ListPending(id)
	if err != nil {
		return detail, err
	}
	for _, e := range pending {
		detail.Pending = append(detail.Pending, PendingRow{
			PR:     e.PR.String(),
			Commit: e.Commit.String(),
			Title:  e.Title,
			URL:    e.URL,
		})
	}

	return detail, nil
}
