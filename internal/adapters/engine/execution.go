package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eleven-am/gantry/internal/domain"
)

// Report is the final state of a finished execution.
type Report struct {
	BuildID     string               `json:"build_id"`
	Pipeline    string               `json:"pipeline"`
	Outcome     domain.RunOutcome    `json:"outcome"`
	RootState   domain.StageState    `json:"root_state"`
	Cause       *domain.Cause        `json:"cause,omitempty"`
	Stages      []domain.StageResult `json:"stages"`
	Artifacts   []domain.ArtifactRef `json:"artifacts,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
}

func (r Report) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Execution is a handle on one running build.
type Execution struct {
	BuildID  string
	Pipeline string

	engine *Engine
	plan   RunPlan
	table  *resultTable
	pool   *workerPool
	params map[string]string
	cancel context.CancelCauseFunc
	logger *slog.Logger

	mu        sync.Mutex
	artifacts []domain.ArtifactRef

	done   chan struct{}
	report Report
}

func (x *Execution) Done() <-chan struct{} {
	return x.done
}

func (x *Execution) Wait() Report {
	<-x.done
	return x.report
}

// Cancel stops the build. In-flight stages observe it cooperatively and end
// as aborted.
func (x *Execution) Cancel() {
	x.cancel(ErrCancelled)
}

func (x *Execution) Results() []domain.StageResult {
	return x.table.snapshot()
}

func (x *Execution) Artifacts() []domain.ArtifactRef {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]domain.ArtifactRef(nil), x.artifacts...)
}

func (x *Execution) run(ctx context.Context) {
	defer close(x.done)

	e := x.engine
	started := x.plan.Context.StartTime
	if started.IsZero() {
		started = e.now()
	}

	ctx, span := e.tracer.Start(ctx, "run "+x.Pipeline, trace.WithAttributes(
		attribute.String("gantry.build_id", x.BuildID),
		attribute.String("gantry.pipeline", x.Pipeline),
	))
	defer span.End()

	e.metrics.IncrementRunsStarted()
	if e.events != nil {
		e.events.PublishRunStarted(&domain.RunStartedEvent{
			BuildID:    x.BuildID,
			Pipeline:   x.Pipeline,
			CommitRef:  x.plan.Context.CommitRef,
			Parameters: x.params,
			StartedAt:  started,
		})
	}
	x.logger.Info("run started", "workers", x.plan.Options.Workers)

	rootState := x.runNode(ctx, x.plan.Graph.Root(), x.plan.Context.Root())

	cause := x.table.getCause()
	if cause == nil && rootState == domain.StageStateAborted && ctx.Err() != nil {
		cause = &domain.Cause{State: domain.StageStateAborted, Detail: context.Cause(ctx).Error()}
	}
	outcome := domain.OutcomeFromState(rootState)
	completed := e.now()

	x.report = Report{
		BuildID:     x.BuildID,
		Pipeline:    x.Pipeline,
		Outcome:     outcome,
		RootState:   rootState,
		Cause:       cause,
		Stages:      x.table.snapshot(),
		Artifacts:   x.Artifacts(),
		StartedAt:   started,
		CompletedAt: completed,
	}

	e.metrics.RecordRunOutcome(outcome)
	span.SetAttributes(attribute.String("gantry.outcome", string(outcome)))
	if outcome != domain.RunOutcomeSuccess {
		span.SetStatus(codes.Error, string(outcome))
	}

	if e.events != nil {
		e.events.PublishRunCompleted(&domain.RunCompletedEvent{
			BuildID:     x.BuildID,
			Pipeline:    x.Pipeline,
			Outcome:     outcome,
			Cause:       cause,
			CompletedAt: completed,
			Duration:    completed.Sub(started),
		})
	}
	x.logger.Info("run completed", "outcome", outcome, "duration", completed.Sub(started))
}
