package domain

import (
	"runtime"
	"strconv"
	"time"
)

type RunStartedEvent struct {
	BuildID    string            `json:"build_id"`
	Pipeline   string            `json:"pipeline"`
	CommitRef  string            `json:"commit_ref,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
}

type RunCompletedEvent struct {
	BuildID     string        `json:"build_id"`
	Pipeline    string        `json:"pipeline"`
	Outcome     RunOutcome    `json:"outcome"`
	Cause       *Cause        `json:"cause,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

type StageStartedEvent struct {
	BuildID   string    `json:"build_id"`
	StageID   string    `json:"stage_id"`
	Kind      StageKind `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

type StageCompletedEvent struct {
	BuildID     string        `json:"build_id"`
	StageID     string        `json:"stage_id"`
	Kind        StageKind     `json:"kind"`
	State       StageState    `json:"state"`
	ExitDetail  string        `json:"exit_detail,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

type ApprovalRequestedEvent struct {
	Request ApprovalRequest `json:"request"`
}

type ApprovalResolvedEvent struct {
	Request ApprovalRequest `json:"request"`
}

type ArtifactRecordedEvent struct {
	Artifact ArtifactRef `json:"artifact"`
}

// StagePanicError is returned in place of a result when an executor panics.
type StagePanicError struct {
	BuildID     string      `json:"build_id"`
	StageID     string      `json:"stage_id"`
	PanicValue  interface{} `json:"panic_value"`
	StackTrace  string      `json:"stack_trace"`
	Timestamp   time.Time   `json:"timestamp"`
	RecoveredAt string      `json:"recovered_at"`
}

func (e *StagePanicError) Error() string {
	return "stage execution panicked: " + e.StageID
}

func NewPanicError(buildID, stageID string, panicValue interface{}) *StagePanicError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	pc, file, line, ok := runtime.Caller(2)
	recoveredAt := "unknown"
	if ok {
		fn := runtime.FuncForPC(pc)
		if fn != nil {
			recoveredAt = fn.Name() + " at " + file + ":" + strconv.Itoa(line)
		}
	}

	return &StagePanicError{
		BuildID:     buildID,
		StageID:     stageID,
		PanicValue:  panicValue,
		StackTrace:  string(buf[:n]),
		Timestamp:   time.Now(),
		RecoveredAt: recoveredAt,
	}
}
