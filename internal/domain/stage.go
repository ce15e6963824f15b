package domain

import (
	"time"
)

type StageKind string

const (
	StageKindLeaf       StageKind = "leaf"
	StageKindSequential StageKind = "sequential"
	StageKindParallel   StageKind = "parallel"
)

func (k StageKind) IsGroup() bool {
	return k == StageKindSequential || k == StageKindParallel
}

type StageState string

const (
	StageStatePending  StageState = "pending"
	StageStateRunning  StageState = "running"
	StageStateSuccess  StageState = "success"
	StageStateFailed   StageState = "failed"
	StageStateUnstable StageState = "unstable"
	StageStateSkipped  StageState = "skipped"
	StageStateAborted  StageState = "aborted"
)

// Severity orders terminal states: aborted > failed > unstable > skipped > success.
// Non-terminal states rank below every terminal one.
func (s StageState) Severity() int {
	switch s {
	case StageStateAborted:
		return 5
	case StageStateFailed:
		return 4
	case StageStateUnstable:
		return 3
	case StageStateSkipped:
		return 2
	case StageStateSuccess:
		return 1
	default:
		return 0
	}
}

func (s StageState) IsTerminal() bool {
	return s.Severity() > 0
}

// Halts reports whether the state stops a sequential group.
func (s StageState) Halts() bool {
	return s == StageStateFailed || s == StageStateAborted
}

// Worst returns the most severe of the given states. With no input it returns success.
func Worst(states ...StageState) StageState {
	worst := StageStateSuccess
	for _, s := range states {
		if s.Severity() > worst.Severity() {
			worst = s
		}
	}
	return worst
}

type ApprovalSpec struct {
	Prompt  string        `json:"prompt" yaml:"prompt"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// StageNode is one vertex of a stage graph. Children are owned by their parent
// and referenced by id.
type StageNode struct {
	ID        string            `json:"id"`
	Kind      StageKind         `json:"kind"`
	Children  []string          `json:"children,omitempty"`
	Condition string            `json:"condition,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty"`
	Approval  *ApprovalSpec     `json:"approval,omitempty"`
	Run       string            `json:"run,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Artifacts []string          `json:"artifacts,omitempty"`
}

func (n *StageNode) ApprovalRequired() bool {
	return n.Approval != nil
}
