package domain

import (
	"time"
)

type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalDenied   ApprovalState = "denied"
	ApprovalExpired  ApprovalState = "expired"
)

type ApprovalRequest struct {
	ID           string        `json:"id"`
	BuildID      string        `json:"build_id"`
	StageID      string        `json:"stage_id"`
	Prompt       string        `json:"prompt"`
	Deadline     time.Time     `json:"deadline"`
	State        ApprovalState `json:"state"`
	ApproverID   string        `json:"approver_id,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
	ArtifactRefs []string      `json:"artifact_refs,omitempty"`
}

func (r *ApprovalRequest) IsOpen() bool {
	return r.State == ApprovalPending
}

// StageState is the stage outcome a resolution leads to. Approval keeps the
// stage running, so it maps to running.
func (s ApprovalState) StageState() StageState {
	switch s {
	case ApprovalApproved:
		return StageStateRunning
	case ApprovalDenied:
		return StageStateFailed
	case ApprovalExpired:
		return StageStateAborted
	default:
		return StageStateRunning
	}
}
