package queuestore

import "github.com/lucasnoah/aelitaqueue/internal/ids"

// Store is the durable, transactional per-pipeline queue store described by
// the queue store component: three collections (pending, queue, running)
// keyed by PipelineID, plus the cancellation primitives the state machine
// needs. Every mutating method is durable before it returns.
//
// Two backends satisfy Store with identical semantics: an embedded
// file-based store (see NewFileStore) and a networked relational store
// (see OpenSQLite and OpenPostgres).
type Store interface {
	// PushQueue appends entry to the tail of pipeline's queue.
	PushQueue(pipeline ids.PipelineID, entry QueueEntry) error
	// PopQueue removes and returns the head of pipeline's queue, or
	// (QueueEntry{}, false, nil) if the queue is empty.
	PopQueue(pipeline ids.PipelineID) (QueueEntry, bool, error)
	// ListQueue returns an ordered snapshot of pipeline's queue.
	ListQueue(pipeline ids.PipelineID) ([]QueueEntry, error)

	// PutRunning upserts the single running slot for pipeline.
	PutRunning(pipeline ids.PipelineID, entry RunningEntry) error
	// TakeRunning removes and returns the running slot for pipeline, or
	// (RunningEntry{}, false, nil) if none is running.
	TakeRunning(pipeline ids.PipelineID) (RunningEntry, bool, error)
	// PeekRunning returns a copy of the running slot without removing it.
	PeekRunning(pipeline ids.PipelineID) (RunningEntry, bool, error)

	// AddPending inserts or replaces a pending entry, keyed by PR.
	AddPending(pipeline ids.PipelineID, entry PendingEntry) error
	// PeekPendingByPR returns the pending entry for pr without removing it.
	PeekPendingByPR(pipeline ids.PipelineID, pr ids.PR) (PendingEntry, bool, error)
	// TakePendingByPR removes and returns the pending entry for pr.
	TakePendingByPR(pipeline ids.PipelineID, pr ids.PR) (PendingEntry, bool, error)
	// ListPending returns all pending entries for pipeline.
	ListPending(pipeline ids.PipelineID) ([]PendingEntry, error)

	// CancelByPR removes all QueueEntry with matching pr and, if a
	// RunningEntry for pr exists, sets its Canceled flag.
	CancelByPR(pipeline ids.PipelineID, pr ids.PR) error
	// CancelByPRDifferentCommit behaves like CancelByPR but only cancels
	// entries whose stored commit differs from commit. It reports whether
	// anything was actually canceled.
	CancelByPRDifferentCommit(pipeline ids.PipelineID, pr ids.PR, commit ids.Commit) (bool, error)

	// Transaction executes body against a transactional view of the store
	// scoped to pipeline. The view provides read-your-writes; all of its
	// mutations commit atomically if body returns nil, or are discarded if
	// body returns an error (the transaction's error is then returned from
	// Transaction, wrapped with ErrTransient when the failure was at the
	// storage layer rather than inside body itself).
	Transaction(pipeline ids.PipelineID, body func(tx Tx) error) error

	// Close releases any resources held by the store (connections, file
	// handles). It does not affect durability of prior writes.
	Close() error
}

// Tx is the transactional view of a single pipeline's queue store handed
// to Store.Transaction's body. It exposes the same operations as Store but
// pre-scoped to one pipeline and, for implementations that support it,
// inside a single database transaction.
type Tx interface {
	PushQueue(entry QueueEntry) error
	PopQueue() (QueueEntry, bool, error)
	ListQueue() ([]QueueEntry, error)

	PutRunning(entry RunningEntry) error
	TakeRunning() (RunningEntry, bool, error)
	PeekRunning() (RunningEntry, bool, error)

	AddPending(entry PendingEntry) error
	PeekPendingByPR(pr ids.PR) (PendingEntry, bool, error)
	TakePendingByPR(pr ids.PR) (PendingEntry, bool, error)
	ListPending() ([]PendingEntry, error)

	CancelByPR(pr ids.PR) error
	CancelByPRDifferentCommit(pr ids.PR, commit ids.Commit) (bool, error)
}
