package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/eleven-am/gantry/internal/adapters/engine"
	"github.com/eleven-am/gantry/internal/adapters/environment"
	"github.com/eleven-am/gantry/internal/adapters/notify"
	"github.com/eleven-am/gantry/internal/definition"
	"github.com/eleven-am/gantry/internal/domain"
)

// TriggerRequest starts a build of a catalog pipeline, or of Definition when
// it is set.
type TriggerRequest struct {
	Pipeline    string                 `json:"pipeline"`
	Definition  *definition.Definition `json:"-"`
	BuildID     string                 `json:"build_id,omitempty"`
	CommitRef   string                 `json:"commit_ref,omitempty"`
	Parameters  map[string]string      `json:"parameters,omitempty"`
	Environment map[string]string      `json:"environment,omitempty"`
}

type activeRun struct {
	buildID    string
	definition *definition.Definition
	record     *domain.RunRecord
	cancel     context.CancelFunc
	done       chan struct{}

	execution *engine.Execution
}

// Trigger records a new build and schedules it. It returns as soon as the
// build is recorded. A build rejected by preflight checks is still recorded,
// as aborted, and its id is returned together with the error.
func (m *Manager) Trigger(ctx context.Context, req TriggerRequest) (string, error) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return "", domain.ErrNotStarted
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	def := req.Definition
	if def == nil {
		var err error
		if def, err = m.catalog.Get(req.Pipeline); err != nil {
			return "", err
		}
	}

	buildID := req.BuildID
	if buildID == "" {
		buildID = uuid.NewString()
	}
	if _, err := m.store.Get(ctx, buildID); err == nil {
		return "", fmt.Errorf("build %q already exists: %w", buildID, domain.ErrInvalidInput)
	}

	record := &domain.RunRecord{
		BuildID:   buildID,
		Pipeline:  def.Name,
		Status:    domain.RunStatusQueued,
		Root:      definition.RootStageID,
		CreatedAt: m.now(),
		Context: domain.RunContextSnapshot{
			BuildID:     buildID,
			CommitRef:   req.CommitRef,
			StartTime:   m.now(),
			Parameters:  req.Parameters,
			Environment: req.Environment,
		},
	}
	logger := m.runLog.WithRun(buildID, def.Name)

	plan, err := m.plan(def, record, req)
	if err != nil {
		logger.Warn("build rejected before start", "error", err)
		m.reject(ctx, def, record, err)
		return buildID, err
	}

	if err := m.store.Save(ctx, record); err != nil {
		return "", fmt.Errorf("record build: %w", err)
	}

	runCtx, cancel := context.WithCancel(m.ctx)
	run := &activeRun{
		buildID:    buildID,
		definition: def,
		record:     record,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		cancel()
		logger.Warn("build rejected: manager stopping")
		m.reject(ctx, def, record, domain.ErrNotStarted)
		return buildID, domain.ErrNotStarted
	}
	m.runs[buildID] = run
	m.wg.Add(1)
	m.mu.Unlock()

	go m.execute(runCtx, run, plan)

	logger.Info("build queued", "commit_ref", req.CommitRef)
	return buildID, nil
}

// plan resolves parameters, builds the graph and runs the engine preflight.
// It fills in the record's context and stage list as it goes, so a rejected
// build is recorded with everything known about it.
func (m *Manager) plan(def *definition.Definition, record *domain.RunRecord, req TriggerRequest) (engine.RunPlan, error) {
	params, err := def.ResolveParameters(req.Parameters)
	if err != nil {
		return engine.RunPlan{}, err
	}
	record.Context.Parameters = params

	env, err := domain.MergeEnvironment(def.Environment, req.Environment)
	if err != nil {
		return engine.RunPlan{}, fmt.Errorf("merge environment: %w", err)
	}

	runContext, err := environment.NewRunContext(record.BuildID, req.CommitRef, params, env, record.Context.StartTime)
	if err != nil {
		return engine.RunPlan{}, err
	}
	record.Context = runContext.Snapshot()

	graph, err := def.Build()
	if err != nil {
		return engine.RunPlan{}, err
	}
	record.Nodes = graph.Nodes()
	record.Stages = make([]domain.StageResult, 0, len(record.Nodes))
	for _, n := range record.Nodes {
		record.Stages = append(record.Stages, domain.StageResult{StageID: n.ID, State: domain.StageStatePending})
	}

	plan := engine.RunPlan{
		Pipeline: def.Name,
		Graph:    graph,
		Context:  runContext,
		Options:  m.config.Engine.RunOptions().Apply(def.Options),
	}
	if err := m.engine.Preflight(plan); err != nil {
		return engine.RunPlan{}, err
	}
	return plan, nil
}

func (m *Manager) reject(ctx context.Context, def *definition.Definition, record *domain.RunRecord, cause error) {
	completed := m.now()
	stages := make([]domain.StageResult, len(record.Stages))
	for i, st := range record.Stages {
		st.State = domain.StageStateAborted
		st.ExitDetail = "not run: preflight failed"
		stages[i] = st
	}

	m.mu.Lock()
	record.Status = domain.RunStatusCompleted
	record.Outcome = domain.RunOutcomeAborted
	record.Cause = domain.CauseFromError(cause)
	record.CompletedAt = &completed
	record.Stages = stages
	m.mu.Unlock()
	m.metrics.RecordRunOutcome(domain.RunOutcomeAborted)
	m.finish(ctx, def, record)
}

func (m *Manager) execute(ctx context.Context, run *activeRun, plan engine.RunPlan) {
	defer m.wg.Done()
	defer close(run.done)
	defer run.cancel()
	logger := m.runLog.WithRun(run.buildID, plan.Pipeline)

	if err := m.slots.Acquire(ctx, 1); err != nil {
		logger.Info("build cancelled while queued")
		m.reject(context.Background(), run.definition, run.record, fmt.Errorf("cancelled before start: %w", engine.ErrCancelled))
		m.forget(run.buildID)
		return
	}
	defer m.slots.Release(1)

	execution, err := m.engine.Start(ctx, plan)
	if err != nil {
		logger.Error("build failed to start", "error", err)
		m.reject(context.Background(), run.definition, run.record, err)
		m.forget(run.buildID)
		return
	}

	m.mu.Lock()
	run.execution = execution
	run.record.Status = domain.RunStatusRunning
	m.mu.Unlock()
	if err := m.store.Save(context.Background(), m.snapshot(run)); err != nil {
		logger.Warn("failed to record running build", "error", err)
	}

	report := execution.Wait()

	m.mu.Lock()
	record := run.record
	completed := report.CompletedAt
	record.Status = domain.RunStatusCompleted
	record.Outcome = report.Outcome
	record.Cause = report.Cause
	record.Stages = report.Stages
	record.Artifacts = report.Artifacts
	record.CompletedAt = &completed
	m.mu.Unlock()

	m.finish(context.Background(), run.definition, record)
	m.forget(run.buildID)
}

// finish attaches the approval history, notifies once and persists the final
// record. Artifacts are pruned afterwards so the new build counts toward
// retention.
func (m *Manager) finish(ctx context.Context, def *definition.Definition, record *domain.RunRecord) {
	logger := m.runLog.WithRun(record.BuildID, record.Pipeline)

	approvals := m.gate.History(record.BuildID)
	m.mu.Lock()
	record.Approvals = approvals
	m.mu.Unlock()
	m.gate.Release(record.BuildID)

	event, err := m.dispatcher.Dispatch(ctx, notify.EventFromRecord(record), def.Notifications...)
	if err != nil && !errors.Is(err, domain.ErrAlreadyDispatched) {
		logger.Warn("notification delivery incomplete", "error", err)
	}
	if !errors.Is(err, domain.ErrAlreadyDispatched) {
		m.mu.Lock()
		record.Notification = &event
		m.mu.Unlock()
	}

	if err := m.store.Save(ctx, record); err != nil {
		logger.Error("failed to record finished build", "error", err)
	}

	if pruned, err := m.registry.Prune(ctx, m.now()); err != nil {
		logger.Warn("artifact pruning failed", "error", err)
	} else if len(pruned) > 0 {
		logger.Info("artifacts pruned", "count", len(pruned))
	}

	logger.Info("build finished", "outcome", record.Outcome, "duration", record.Duration())
}

func (m *Manager) forget(buildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, buildID)
}

// snapshot copies the record of an active run with its live stage states.
// Callers hold m.mu.
func (m *Manager) snapshot(run *activeRun) *domain.RunRecord {
	record := *run.record
	if record.Status == domain.RunStatusCompleted {
		return &record
	}
	if run.execution != nil {
		record.Stages = run.execution.Results()
		record.Artifacts = run.execution.Artifacts()
	}
	record.Approvals = m.gate.History(run.buildID)
	return &record
}

// Status returns the live record of an active build, including one still
// being finished, or the stored record of a forgotten one.
func (m *Manager) Status(ctx context.Context, buildID string) (*domain.RunRecord, error) {
	m.mu.Lock()
	if run, ok := m.runs[buildID]; ok {
		record := m.snapshot(run)
		m.mu.Unlock()
		return record, nil
	}
	m.mu.Unlock()

	return m.store.Get(ctx, buildID)
}

func (m *Manager) List(ctx context.Context, opts domain.ListOptions) ([]domain.RunSummary, error) {
	return m.store.List(ctx, opts)
}

// Cancel aborts a queued or running build. Cancelling a finished build is an
// error wrapping ErrNotFound.
func (m *Manager) Cancel(buildID string) error {
	m.mu.Lock()
	run, ok := m.runs[buildID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active build %q: %w", buildID, domain.ErrNotFound)
	}

	m.runLog.WithRun(buildID, run.definition.Name).Info("cancelling build")
	m.mu.Lock()
	execution := run.execution
	m.mu.Unlock()
	if execution != nil {
		execution.Cancel()
	} else {
		run.cancel()
	}
	return nil
}

// Subscribe streams the events of an active build. The channel closes once
// the build is recorded as finished or cleanup is called.
func (m *Manager) Subscribe(buildID string) (<-chan interface{}, func(), error) {
	m.mu.Lock()
	run, ok := m.runs[buildID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("no active build %q: %w", buildID, domain.ErrNotFound)
	}

	ch, cleanup, err := m.eventManager.SubscribeToBuild(buildID)
	if err != nil {
		return nil, nil, err
	}
	go func() {
		<-run.done
		cleanup()
	}()
	return ch, cleanup, nil
}

// Wait blocks until the build is recorded as finished and returns its record.
func (m *Manager) Wait(ctx context.Context, buildID string) (*domain.RunRecord, error) {
	m.mu.Lock()
	run, ok := m.runs[buildID]
	m.mu.Unlock()

	if ok {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.store.Get(ctx, buildID)
}

func (m *Manager) Approve(buildID, stageID, approverID string) (domain.ApprovalRequest, error) {
	req, err := m.gate.Find(buildID, stageID)
	if err != nil {
		return m.settledApproval(buildID, stageID, err)
	}
	m.runLog.WithRun(buildID, "").Stage(stageID).Info("approval granted", "approver", approverID)
	return m.gate.Approve(req.ID, approverID)
}

func (m *Manager) Deny(buildID, stageID, approverID, reason string) (domain.ApprovalRequest, error) {
	req, err := m.gate.Find(buildID, stageID)
	if err != nil {
		return m.settledApproval(buildID, stageID, err)
	}
	m.runLog.WithRun(buildID, "").Stage(stageID).Info("approval denied", "approver", approverID, "reason", reason)
	return m.gate.Deny(req.ID, approverID, reason)
}

// settledApproval answers a decision on a request the gate has already
// released. A request in the build's history stays resolved for good.
func (m *Manager) settledApproval(buildID, stageID string, findErr error) (domain.ApprovalRequest, error) {
	if !domain.IsNotFound(findErr) {
		return domain.ApprovalRequest{}, findErr
	}

	var approvals []domain.ApprovalRequest
	m.mu.Lock()
	run, active := m.runs[buildID]
	if active {
		approvals = run.record.Approvals
	}
	m.mu.Unlock()

	if !active {
		record, err := m.store.Get(context.Background(), buildID)
		if err != nil {
			return domain.ApprovalRequest{}, findErr
		}
		approvals = record.Approvals
	}

	for i := len(approvals) - 1; i >= 0; i-- {
		req := approvals[i]
		if req.StageID != stageID || req.IsOpen() {
			continue
		}
		return req, &domain.AlreadyResolvedError{RequestID: req.ID, State: req.State}
	}
	return domain.ApprovalRequest{}, findErr
}
