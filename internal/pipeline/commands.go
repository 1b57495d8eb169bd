package pipeline

import "github.com/lucasnoah/aelitaqueue/internal/ids"

// Command is the tagged union of outbound effects the machine asks its
// caller to perform. The machine never performs these itself; the
// dispatcher hands each Command to the adapter bound to the pipeline.
type Command interface {
	PipelineID() ids.PipelineID
}

// MergeToStaging asks the Vcs adapter to merge PullCommit onto the staging
// branch and report back a VcsMergedToStaging or VcsFailedMergeToStaging.
type MergeToStaging struct {
	Pipeline   ids.PipelineID
	PR         ids.PR
	PullCommit ids.Commit
	Message    string
}

func (c MergeToStaging) PipelineID() ids.PipelineID { return c.Pipeline }

// MoveStagingToMaster asks the Vcs adapter to fast-forward the protected
// branch to MergeCommit.
type MoveStagingToMaster struct {
	Pipeline    ids.PipelineID
	MergeCommit ids.Commit
}

func (c MoveStagingToMaster) PipelineID() ids.PipelineID { return c.Pipeline }

// StartBuild asks one bound Ci channel to build MergeCommit.
type StartBuild struct {
	Pipeline ids.PipelineID
	CiID     ids.CiID
	Commit   ids.Commit
}

func (c StartBuild) PipelineID() ids.PipelineID { return c.Pipeline }

// SendResult asks the Ui adapter to post Status back to the review series.
type SendResult struct {
	Pipeline ids.PipelineID
	PR       ids.PR
	Status   Status
}

func (c SendResult) PipelineID() ids.PipelineID { return c.Pipeline }
