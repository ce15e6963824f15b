package ports

import (
	"context"

	"github.com/eleven-am/gantry/internal/domain"
)

// ApprovalTransport announces a new request to whoever can resolve it.
// Resolutions come back through ApprovalGate.Approve and ApprovalGate.Deny.
type ApprovalTransport interface {
	RequestApproval(ctx context.Context, req domain.ApprovalRequest) error
}

type ApprovalGate interface {
	// Await opens a request for the stage and blocks until it is resolved,
	// its deadline passes, or ctx is cancelled.
	Await(ctx context.Context, buildID string, stage domain.StageNode, pins []string) (domain.ApprovalRequest, error)

	Approve(requestID, approverID string) (domain.ApprovalRequest, error)
	Deny(requestID, approverID, reason string) (domain.ApprovalRequest, error)

	Get(requestID string) (domain.ApprovalRequest, error)
	Find(buildID, stageID string) (domain.ApprovalRequest, error)
	History(buildID string) []domain.ApprovalRequest
	Pending() []domain.ApprovalRequest
}
