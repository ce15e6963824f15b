package domain

import (
	"time"
)

type RunOutcome string

const (
	RunOutcomeSuccess  RunOutcome = "success"
	RunOutcomeFailure  RunOutcome = "failure"
	RunOutcomeUnstable RunOutcome = "unstable"
	RunOutcomeAborted  RunOutcome = "aborted"
)

// OutcomeFromState maps the root stage's terminal state onto a run outcome.
// A fully skipped pipeline counts as a success.
func OutcomeFromState(state StageState) RunOutcome {
	switch state {
	case StageStateFailed:
		return RunOutcomeFailure
	case StageStateUnstable:
		return RunOutcomeUnstable
	case StageStateAborted:
		return RunOutcomeAborted
	default:
		return RunOutcomeSuccess
	}
}

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
)

type StageResult struct {
	StageID    string        `json:"stage_id"`
	State      StageState    `json:"state"`
	StartTime  *time.Time    `json:"start_time,omitempty"`
	EndTime    *time.Time    `json:"end_time,omitempty"`
	ExitDetail string        `json:"exit_detail,omitempty"`
	Artifacts  []ArtifactRef `json:"artifacts,omitempty"`
}

func (r StageResult) Duration() time.Duration {
	if r.StartTime == nil || r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(*r.StartTime)
}

type RunContextSnapshot struct {
	BuildID     string            `json:"build_id"`
	CommitRef   string            `json:"commit_ref,omitempty"`
	StartTime   time.Time         `json:"start_time"`
	Parameters  map[string]string `json:"parameters"`
	Environment map[string]string `json:"environment"`
}

// Cause names what produced a run's outcome: the first stage that failed or
// was aborted on its own account, or the preflight check that rejected the run.
type Cause struct {
	StageID   string     `json:"stage_id,omitempty"`
	State     StageState `json:"state,omitempty"`
	Condition string     `json:"condition,omitempty"`
	Detail    string     `json:"detail"`
}

// RunRecord is the persisted audit trail of one build.
type RunRecord struct {
	BuildID      string             `json:"build_id"`
	Pipeline     string             `json:"pipeline"`
	Status       RunStatus          `json:"status"`
	Outcome      RunOutcome         `json:"outcome,omitempty"`
	Cause        *Cause             `json:"cause,omitempty"`
	Context      RunContextSnapshot `json:"context"`
	Root         string             `json:"root"`
	Nodes        []StageNode        `json:"nodes"`
	Stages       []StageResult      `json:"stages"`
	Artifacts    []ArtifactRef      `json:"artifacts,omitempty"`
	Approvals    []ApprovalRequest  `json:"approvals,omitempty"`
	Notification *NotificationEvent `json:"notification,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

func (r *RunRecord) Stage(stageID string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.StageID == stageID {
			return s, true
		}
	}
	return StageResult{}, false
}

func (r *RunRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return time.Since(r.Context.StartTime)
	}
	return r.CompletedAt.Sub(r.Context.StartTime)
}

func (r *RunRecord) Summary() RunSummary {
	return RunSummary{
		BuildID:     r.BuildID,
		Pipeline:    r.Pipeline,
		Status:      r.Status,
		Outcome:     r.Outcome,
		CommitRef:   r.Context.CommitRef,
		StartedAt:   r.Context.StartTime,
		CompletedAt: r.CompletedAt,
	}
}

type RunSummary struct {
	BuildID     string     `json:"build_id"`
	Pipeline    string     `json:"pipeline"`
	Status      RunStatus  `json:"status"`
	Outcome     RunOutcome `json:"outcome,omitempty"`
	CommitRef   string     `json:"commit_ref,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type ListOptions struct {
	Pipeline string
	Limit    int
}
