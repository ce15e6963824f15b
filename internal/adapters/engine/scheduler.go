package engine

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eleven-am/gantry/internal/adapters/environment"
	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// siblingHaltError is the cancellation cause fail-fast hands to the rest of a
// parallel group.
type siblingHaltError struct {
	StageID string
	State   domain.StageState
}

func (e *siblingHaltError) Error() string {
	return fmt.Sprintf("cancelled: parallel sibling %q %s", e.StageID, e.State)
}

func (x *Execution) runNode(ctx context.Context, id string, scope *environment.Scope) domain.StageState {
	node, ok := x.plan.Graph.Node(id)
	if !ok {
		x.logger.Error("stage missing from graph", "stage_id", id)
		return domain.StageStateAborted
	}

	if ctx.Err() != nil {
		x.settleSubtree(node, true, domain.StageStateAborted, context.Cause(ctx).Error())
		return domain.StageStateAborted
	}

	if node.Condition != "" {
		run, err := x.engine.evaluator.Evaluate(node.Condition, x.params, scope.Vars())
		if err != nil {
			detail := "condition could not be evaluated: " + err.Error()
			x.table.noteCause(domain.Cause{
				StageID:   id,
				State:     domain.StageStateAborted,
				Condition: node.Condition,
				Detail:    detail,
			})
			x.settleSubtree(node, true, domain.StageStateAborted, detail)
			return domain.StageStateAborted
		}
		if !run {
			x.logger.Info("stage skipped", "stage_id", id, "condition", node.Condition)
			x.settleSubtree(node, true, domain.StageStateSkipped, "condition not met: "+node.Condition)
			return domain.StageStateSkipped
		}
	}

	if err := x.table.begin(id); err != nil {
		x.logger.Error("stage could not start", "stage_id", id, "error", err)
		return x.table.state(id)
	}
	started := x.engine.now()
	if x.engine.events != nil {
		x.engine.events.PublishStageStarted(&domain.StageStartedEvent{
			BuildID:   x.BuildID,
			StageID:   id,
			Kind:      node.Kind,
			StartedAt: started,
		})
	}

	spanCtx, span := x.engine.tracer.Start(ctx, "stage "+id, trace.WithAttributes(
		attribute.String("gantry.build_id", x.BuildID),
		attribute.String("gantry.stage_id", id),
		attribute.String("gantry.stage_kind", string(node.Kind)),
	))
	defer span.End()

	state, detail, artifacts := x.execute(spanCtx, node, scope)

	if node.Kind.IsGroup() {
		x.settleSubtree(node, false, domain.StageStateAborted, fmt.Sprintf("not run: stage %q ended %s", id, state))
	}
	if err := x.table.finish(id, state, detail, artifacts); err != nil {
		x.logger.Error("stage result rejected", "stage_id", id, "error", err)
	}

	completed := x.engine.now()
	if node.Kind == domain.StageKindLeaf {
		x.engine.metrics.IncrementStagesExecuted()
		x.engine.metrics.AddExecutionTime(completed.Sub(started))
	}
	if state == domain.StageStateFailed {
		x.engine.metrics.IncrementStagesFailed()
	}

	span.SetAttributes(attribute.String("gantry.stage_state", string(state)))
	if state.Halts() {
		span.SetStatus(codes.Error, detail)
	}

	if x.engine.events != nil {
		x.engine.events.PublishStageCompleted(&domain.StageCompletedEvent{
			BuildID:     x.BuildID,
			StageID:     id,
			Kind:        node.Kind,
			State:       state,
			ExitDetail:  detail,
			CompletedAt: completed,
			Duration:    completed.Sub(started),
		})
	}
	x.logger.Info("stage completed",
		"stage_id", id,
		"state", state,
		"duration", completed.Sub(started))
	return state
}

func (x *Execution) execute(ctx context.Context, node domain.StageNode, scope *environment.Scope) (domain.StageState, string, []domain.ArtifactRef) {
	if node.ApprovalRequired() {
		if state, detail, proceed := x.awaitApproval(ctx, node); !proceed {
			return state, detail, nil
		}
	}

	timeout := node.Timeout
	if timeout == 0 && node.Kind == domain.StageKindLeaf {
		timeout = x.plan.Options.StageTimeout
	}
	stageCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeoutCause(ctx, timeout,
			&domain.TimeoutExceeded{Scope: "stage", ID: node.ID, Timeout: timeout})
		defer cancel()
	}

	if node.Kind == domain.StageKindLeaf {
		return x.runLeaf(ctx, stageCtx, node, scope)
	}

	groupScope, err := scope.Push(node.ID, node.Env)
	if err != nil {
		detail := "environment: " + err.Error()
		x.noteFailure(node, detail)
		return domain.StageStateFailed, detail, nil
	}

	var state domain.StageState
	switch node.Kind {
	case domain.StageKindSequential:
		state = x.runSequential(stageCtx, node, groupScope)
	case domain.StageKindParallel:
		state = x.runParallel(stageCtx, node, groupScope)
	default:
		return domain.StageStateAborted, fmt.Sprintf("unknown stage kind %q", node.Kind), nil
	}

	if state == domain.StageStateAborted && stageCtx.Err() != nil && ctx.Err() == nil {
		return state, x.interrupted(ctx, stageCtx, node), nil
	}
	return state, "", nil
}

func (x *Execution) runLeaf(parent, ctx context.Context, node domain.StageNode, scope *environment.Scope) (domain.StageState, string, []domain.ArtifactRef) {
	if err := x.pool.acquire(ctx); err != nil {
		return domain.StageStateAborted, x.interrupted(parent, ctx, node), nil
	}
	defer x.pool.release()

	if ctx.Err() != nil {
		return domain.StageStateAborted, x.interrupted(parent, ctx, node), nil
	}

	leafScope, err := scope.Push(node.ID, node.Env)
	if err != nil {
		detail := "environment: " + err.Error()
		x.noteFailure(node, detail)
		return domain.StageStateFailed, detail, nil
	}

	result, err := x.engine.executor.Execute(ctx, ports.ExecutionRequest{
		BuildID:     x.BuildID,
		Stage:       node,
		Environment: leafScope.Vars(),
	})
	if ctx.Err() != nil {
		return domain.StageStateAborted, x.interrupted(parent, ctx, node), nil
	}

	artifacts := x.recordArtifacts(node, result.Artifacts)
	switch {
	case err != nil:
		detail := joinDetail(err.Error(), result.ExitDetail)
		x.noteFailure(node, detail)
		return domain.StageStateFailed, detail, artifacts
	case result.State == domain.StageStateSuccess, result.State == domain.StageStateUnstable:
		return result.State, result.ExitDetail, artifacts
	case result.State == domain.StageStateFailed:
		detail := result.ExitDetail
		if detail == "" {
			detail = "stage reported failure"
		}
		x.noteFailure(node, detail)
		return domain.StageStateFailed, detail, artifacts
	default:
		detail := fmt.Sprintf("executor returned unexpected state %q", result.State)
		x.noteFailure(node, detail)
		return domain.StageStateFailed, detail, artifacts
	}
}

func (x *Execution) runSequential(ctx context.Context, node domain.StageNode, scope *environment.Scope) domain.StageState {
	states := make([]domain.StageState, 0, len(node.Children))
	for i, child := range node.Children {
		state := x.runNode(ctx, child, scope)
		states = append(states, state)

		if state.Halts() && !x.plan.Options.ContinueOnFailure {
			detail := fmt.Sprintf("not run: stage %q %s", child, state)
			for _, rest := range node.Children[i+1:] {
				if restNode, ok := x.plan.Graph.Node(rest); ok {
					x.settleSubtree(restNode, true, domain.StageStateAborted, detail)
				}
			}
			break
		}
	}
	return domain.Worst(states...)
}

// runParallel joins on every child. The group takes the worst child state,
// including children that fail-fast cancelled.
func (x *Execution) runParallel(ctx context.Context, node domain.StageNode, scope *environment.Scope) domain.StageState {
	groupCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	states := make([]domain.StageState, len(node.Children))
	var wg sync.WaitGroup
	for i, child := range node.Children {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := x.runNode(groupCtx, child, scope)
			states[i] = state
			if state.Halts() && x.plan.Options.FailFast && ctx.Err() == nil {
				cancel(&siblingHaltError{StageID: child, State: state})
			}
		}()
	}
	wg.Wait()

	return domain.Worst(states...)
}
