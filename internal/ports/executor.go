package ports

import (
	"context"

	"github.com/eleven-am/gantry/internal/domain"
)

type ExecutionRequest struct {
	BuildID     string
	Stage       domain.StageNode
	Environment map[string]string
}

// Executor runs the work of one leaf stage. It must return promptly once ctx
// is cancelled. A non-nil error is recorded as a failed stage.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (domain.StageResult, error)
}

type ExecutorFunc func(ctx context.Context, req ExecutionRequest) (domain.StageResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, req ExecutionRequest) (domain.StageResult, error) {
	return f(ctx, req)
}
