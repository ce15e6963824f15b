package approval

import (
	"context"
	"log/slog"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// LogTransport announces requests in the log; approvers answer through the
// HTTP API.
type LogTransport struct {
	logger *slog.Logger
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger.With("component", "approval-transport")}
}

func (t *LogTransport) RequestApproval(_ context.Context, req domain.ApprovalRequest) error {
	t.logger.Warn("approval required",
		"build_id", req.BuildID,
		"stage_id", req.StageID,
		"request_id", req.ID,
		"prompt", req.Prompt,
		"deadline", req.Deadline)
	return nil
}

// AutoApprover resolves every request as approved by a fixed identity. The
// CLI uses it for unattended runs.
type AutoApprover struct {
	approverID string
	gate       ports.ApprovalGate
}

func NewAutoApprover(approverID string) *AutoApprover {
	return &AutoApprover{approverID: approverID}
}

func (a *AutoApprover) Bind(gate ports.ApprovalGate) {
	a.gate = gate
}

func (a *AutoApprover) RequestApproval(_ context.Context, req domain.ApprovalRequest) error {
	if a.gate == nil {
		return domain.ErrNotStarted
	}
	go func() {
		_, _ = a.gate.Approve(req.ID, a.approverID)
	}()
	return nil
}

// MultiTransport fans a request out to several transports and reports the
// first failure.
type MultiTransport []ports.ApprovalTransport

func (m MultiTransport) RequestApproval(ctx context.Context, req domain.ApprovalRequest) error {
	var first error
	for _, t := range m {
		if err := t.RequestApproval(ctx, req); err != nil && first == nil {
			first = err
		}
	}
	return first
}
