package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// StageFunc is in-process work for one stage. Returning domain.StageStateUnstable
// with a nil error marks the stage unstable; any error fails it.
type StageFunc func(ctx context.Context, req ports.ExecutionRequest) (domain.StageState, error)

// FuncExecutor dispatches stages to registered functions by id and hands
// everything else to a fallback executor.
type FuncExecutor struct {
	mu       sync.RWMutex
	funcs    map[string]StageFunc
	fallback ports.Executor
	logger   *slog.Logger
}

func NewFuncExecutor(fallback ports.Executor, logger *slog.Logger) *FuncExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FuncExecutor{
		funcs:    make(map[string]StageFunc),
		fallback: fallback,
		logger:   logger.With("component", "func-executor"),
	}
}

func (e *FuncExecutor) Register(stageID string, fn StageFunc) error {
	if stageID == "" || fn == nil {
		return domain.ErrInvalidInput
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[stageID] = fn
	return nil
}

func (e *FuncExecutor) Execute(ctx context.Context, req ports.ExecutionRequest) (result domain.StageResult, err error) {
	defer recoverStage(e.logger, req, &result, &err)

	e.mu.RLock()
	fn, ok := e.funcs[req.Stage.ID]
	e.mu.RUnlock()

	if !ok {
		if e.fallback == nil {
			return domain.StageResult{}, fmt.Errorf("no executor for stage %q: %w", req.Stage.ID, domain.ErrNotFound)
		}
		return e.fallback.Execute(ctx, req)
	}

	state, err := fn(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.StageResult{State: domain.StageStateAborted}, ctx.Err()
		}
		return domain.StageResult{State: domain.StageStateFailed, ExitDetail: err.Error()},
			&domain.ExecutionFailure{StageID: req.Stage.ID, Err: err}
	}
	if state == "" {
		state = domain.StageStateSuccess
	}
	if state != domain.StageStateSuccess && state != domain.StageStateUnstable {
		return domain.StageResult{}, fmt.Errorf("stage func returned %q: %w", state, domain.ErrInvalidTransition)
	}
	return domain.StageResult{State: state}, nil
}

func recoverStage(logger *slog.Logger, req ports.ExecutionRequest, result *domain.StageResult, err *error) {
	if r := recover(); r != nil {
		panicErr := domain.NewPanicError(req.BuildID, req.Stage.ID, r)
		logger.Error("stage execution panicked",
			"build_id", req.BuildID,
			"stage_id", req.Stage.ID,
			"panic_value", r,
			"stack_trace", panicErr.StackTrace)

		*result = domain.StageResult{State: domain.StageStateFailed, ExitDetail: fmt.Sprintf("panic: %v", r)}
		*err = panicErr
	}
}
