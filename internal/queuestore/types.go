package queuestore

import (
	"errors"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
)

// PendingEntry is a review series observed but not yet approved. At most
// one exists per pr within a pipeline; re-adding replaces it.
type PendingEntry struct {
	PR     ids.PR
	Commit ids.Commit
	Title  string
	URL    string
}

// QueueEntry is an approved series waiting to be tested, ordered FIFO.
type QueueEntry struct {
	PR      ids.PR
	Commit  ids.Commit
	Message string
}

// RunningEntry is the single approved series currently occupying staging.
// BuiltBy tracks which bound CI channels have reported success for the
// current MergeCommit; it is cleared whenever MergeCommit is reassigned.
type RunningEntry struct {
	PR          ids.PR
	PullCommit  ids.Commit
	MergeCommit ids.Commit // zero value means no merge outstanding
	Message     string
	Canceled    bool
	Built       bool
	BuiltBy     map[ids.CiID]bool
}

// HasMergeCommit reports whether a merge-to-staging has completed for this
// running entry.
func (r RunningEntry) HasMergeCommit() bool { return !r.MergeCommit.IsZero() }

// ErrTransient marks an error as retriable by the event dispatcher (lost
// connection, lock contention, ...). Store implementations wrap their
// underlying transient failures with this sentinel via errors.Join/%w so
// callers can test with errors.Is(err, ErrTransient).
var ErrTransient = errors.New("queuestore: transient error")

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("queuestore: not found")
