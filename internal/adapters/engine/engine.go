package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/eleven-am/gantry/internal/adapters/environment"
	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// ErrCancelled is the cancellation cause of a run stopped through Execution.Cancel.
var ErrCancelled = errors.New("run cancelled")

type Dependencies struct {
	Executor  ports.Executor
	Evaluator ports.ConditionEvaluator
	Gate      ports.ApprovalGate
	Artifacts ports.ArtifactRegistry
	Events    ports.EventManager
	Metrics   *domain.ExecutionMetrics
	Tracing   ports.TracingProvider
}

// RunPlan is everything needed to execute one build.
type RunPlan struct {
	Pipeline string
	Graph    ports.StageGraph
	Context  *environment.RunContext
	Options  domain.RunOptions
}

type Engine struct {
	config    domain.EngineConfig
	executor  ports.Executor
	evaluator ports.ConditionEvaluator
	gate      ports.ApprovalGate
	artifacts ports.ArtifactRegistry
	events    ports.EventManager
	metrics   *domain.ExecutionMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(config domain.EngineConfig, deps Dependencies, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = domain.NewExecutionMetrics()
	}
	tracer := noop.NewTracerProvider().Tracer("gantry/engine")
	if deps.Tracing != nil {
		tracer = deps.Tracing.Tracer("gantry/engine")
	}

	return &Engine{
		config:    config,
		executor:  deps.Executor,
		evaluator: deps.Evaluator,
		gate:      deps.Gate,
		artifacts: deps.Artifacts,
		events:    deps.Events,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger.With("component", "engine"),
		now:       time.Now,
	}
}

func (e *Engine) Metrics() *domain.ExecutionMetrics {
	return e.metrics
}

// Preflight rejects a plan that cannot run: an invalid graph, a condition
// that does not parse, or a condition naming a parameter the run lacks.
func (e *Engine) Preflight(plan RunPlan) error {
	if plan.Graph == nil || plan.Context == nil {
		return fmt.Errorf("run plan needs a graph and a run context: %w", domain.ErrInvalidInput)
	}
	if err := plan.Graph.Validate(); err != nil {
		return err
	}

	params := plan.Context.Parameters()
	for _, node := range plan.Graph.Nodes() {
		if node.ApprovalRequired() && e.gate == nil {
			return domain.NewStructureError(node.ID, "approval required but no approval gate is configured")
		}
		if node.Kind == domain.StageKindLeaf && e.executor == nil {
			return domain.NewStructureError(node.ID, "no executor configured")
		}
		if node.Condition == "" {
			continue
		}
		if e.evaluator == nil {
			return domain.NewStructureError(node.ID, "condition set but no evaluator is configured")
		}
		refs, err := e.evaluator.References(node.Condition)
		if err != nil {
			return domain.NewStructureError(node.ID, "invalid condition: "+err.Error())
		}
		for _, name := range refs {
			if _, ok := params[name]; !ok {
				return &domain.UnresolvedReferenceError{Name: name, Condition: node.Condition, StageID: node.ID}
			}
		}
	}
	return nil
}

// Start runs preflight and, if it passes, executes the plan in the
// background. The returned Execution reports progress and the final result.
func (e *Engine) Start(ctx context.Context, plan RunPlan) (*Execution, error) {
	if err := e.Preflight(plan); err != nil {
		e.logger.Warn("run rejected by preflight",
			"build_id", buildIDOf(plan),
			"pipeline", plan.Pipeline,
			"error", err)
		return nil, err
	}

	opts := plan.Options
	if opts.Workers <= 0 {
		opts.Workers = e.config.Workers
	}
	plan.Options = opts

	buildID := plan.Context.BuildID
	runCtx, cancel := context.WithCancelCause(ctx)
	execCtx, stop := runCtx, context.CancelFunc(func() {})
	if opts.RunTimeout > 0 {
		timeout := &domain.TimeoutExceeded{Scope: "run", ID: buildID, Timeout: opts.RunTimeout}
		execCtx, stop = context.WithTimeoutCause(runCtx, opts.RunTimeout, timeout)
	}

	x := &Execution{
		BuildID:  buildID,
		Pipeline: plan.Pipeline,
		engine:   e,
		plan:     plan,
		table:    newResultTable(plan.Graph.Nodes(), e.now),
		pool:     newWorkerPool(opts.Workers),
		params:   plan.Context.Parameters(),
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   e.logger.With("build_id", buildID, "pipeline", plan.Pipeline),
	}

	go func() {
		defer cancel(nil)
		defer stop()
		x.run(execCtx)
	}()
	return x, nil
}

// Run starts the plan and blocks until it finishes.
func (e *Engine) Run(ctx context.Context, plan RunPlan) (Report, error) {
	x, err := e.Start(ctx, plan)
	if err != nil {
		return Report{}, err
	}
	return x.Wait(), nil
}

func buildIDOf(plan RunPlan) string {
	if plan.Context == nil {
		return ""
	}
	return plan.Context.BuildID
}
