package pipeline

import "github.com/lucasnoah/aelitaqueue/internal/ids"

// Kind enumerates the result states a review series can be told about.
type Kind int

const (
	// Approved is sent the moment a reviewer's approval is accepted.
	Approved Kind = iota
	// StartingBuild is sent once the pull commit lands on staging and a
	// build is about to begin.
	StartingBuild
	// Testing is sent when at least one bound Ci channel has acknowledged
	// the build has started.
	Testing
	// Success is sent once every bound Ci channel has reported success,
	// alongside the move_staging_to_master command; the move itself has
	// not yet been confirmed.
	Success
	// Failure is sent when a bound Ci channel reports build failure.
	Failure
	// Unmergeable is sent when merge_to_staging fails.
	Unmergeable
	// Unmoveable is sent when move_staging_to_master fails.
	Unmoveable
	// Invalidated is sent when a new head commit cancels a queued or
	// running entry pinned to the old commit, or when an approval pins a
	// commit that no longer matches the pending head.
	Invalidated
	// NoCommit is sent when an approval could not be resolved to any known
	// commit (approved before the pull request was observed).
	NoCommit
	// Completed is sent once the merge commit has landed on the protected
	// branch, the final terminal state for a successful run.
	Completed
)

func (k Kind) String() string {
	switch k {
	case Approved:
		return "approved"
	case StartingBuild:
		return "starting_build"
	case Testing:
		return "testing"
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Unmergeable:
		return "unmergeable"
	case Unmoveable:
		return "unmoveable"
	case Invalidated:
		return "invalidated"
	case NoCommit:
		return "no_commit"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Status is the payload of a SendResult command.
type Status struct {
	Kind        Kind
	PullCommit  ids.Commit
	MergeCommit ids.Commit
	URL         string
	Message     string
}
