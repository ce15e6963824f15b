package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/gantry/internal/adapters/executor"
	"github.com/eleven-am/gantry/internal/adapters/storage"
	"github.com/eleven-am/gantry/internal/definition"
	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

func testConfig(t *testing.T) *domain.Config {
	t.Helper()
	config := domain.NewConfigFromSimple(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	config.Storage.Driver = domain.StorageMemory
	config.Pipelines.Dir = ""
	return config
}

func mustParse(t *testing.T, doc string) *definition.Definition {
	t.Helper()
	def, err := definition.Parse([]byte(doc))
	require.NoError(t, err)
	return def
}

func startManager(t *testing.T, config *domain.Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(config, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func succeed(context.Context, ports.ExecutionRequest) (domain.StageState, error) {
	return domain.StageStateSuccess, nil
}

func blockUntilCancelled(ctx context.Context, _ ports.ExecutionRequest) (domain.StageState, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func waitFor(t *testing.T, m *Manager, buildID string) *domain.RunRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record, err := m.Wait(ctx, buildID)
	require.NoError(t, err)
	return record
}

func TestManager_TriggerRunsToCompletion(t *testing.T) {
	exec := executor.NewFuncExecutor(nil, nil)
	require.NoError(t, exec.Register("build", succeed))
	require.NoError(t, exec.Register("lint", func(context.Context, ports.ExecutionRequest) (domain.StageState, error) {
		return domain.StageStateUnstable, nil
	}))

	m := startManager(t, testConfig(t), WithExecutor(exec))
	def := mustParse(t, `
name: api
stages:
  - name: build
    run: make
  - name: lint
    run: make lint
`)

	buildID, err := m.Trigger(context.Background(), TriggerRequest{Definition: def, CommitRef: "abc123"})
	require.NoError(t, err)
	require.NotEmpty(t, buildID)

	record := waitFor(t, m, buildID)
	assert.Equal(t, domain.RunStatusCompleted, record.Status)
	assert.Equal(t, domain.RunOutcomeUnstable, record.Outcome)
	assert.Equal(t, "abc123", record.Context.CommitRef)
	assert.Equal(t, definition.RootStageID, record.Root)

	lint, ok := record.Stage("lint")
	require.True(t, ok)
	assert.Equal(t, domain.StageStateUnstable, lint.State)

	require.NotNil(t, record.Notification)
	assert.Equal(t, domain.RunOutcomeUnstable, record.Notification.RunOutcome)
	assert.Equal(t, []string{"log"}, record.Notification.Channels)
	assert.Equal(t, "lint", record.Notification.Summary.FailingStageID)

	summaries, err := m.List(context.Background(), domain.ListOptions{Pipeline: "api"})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, buildID, summaries[0].BuildID)

	snap := m.Metrics()
	assert.Equal(t, int64(1), snap.RunsUnstable)
	assert.Equal(t, int64(1), snap.NotificationsSent)
}

func TestManager_PreflightRejectionIsRecorded(t *testing.T) {
	m := startManager(t, testConfig(t), WithExecutor(executor.NewFuncExecutor(nil, nil)))
	def := mustParse(t, `
name: api
stages:
  - name: deploy
    when: params.TARGET == "prod"
    run: ./deploy.sh
`)

	buildID, err := m.Trigger(context.Background(), TriggerRequest{Definition: def})
	require.Error(t, err)
	assert.True(t, domain.IsUnresolvedReference(err))
	require.NotEmpty(t, buildID)

	record, err := m.Status(context.Background(), buildID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunOutcomeAborted, record.Outcome)
	require.NotNil(t, record.Cause)
	assert.Equal(t, "deploy", record.Cause.StageID)
	assert.Equal(t, `params.TARGET == "prod"`, record.Cause.Condition)
	require.NotNil(t, record.Notification)

	deploy, _ := record.Stage("deploy")
	assert.Equal(t, domain.StageStateAborted, deploy.State)
}

func TestManager_InvalidParameterIsRecorded(t *testing.T) {
	m := startManager(t, testConfig(t), WithExecutor(executor.NewFuncExecutor(nil, nil)))
	def := mustParse(t, `
name: api
parameters:
  - name: ENV
    choices: [staging, production]
stages:
  - name: deploy
    run: ./deploy.sh
`)

	buildID, err := m.Trigger(context.Background(), TriggerRequest{Definition: def, Parameters: map[string]string{"ENV": "moon"}})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	record, err := m.Status(context.Background(), buildID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunOutcomeAborted, record.Outcome)
}

func TestManager_ApprovalThroughManager(t *testing.T) {
	exec := executor.NewFuncExecutor(nil, nil)
	require.NoError(t, exec.Register("push", succeed))

	m := startManager(t, testConfig(t), WithExecutor(exec))
	def := mustParse(t, `
name: release
stages:
  - name: deploy
    approval:
      prompt: Ship it?
      timeout: 1m
    stages:
      - name: push
        run: ./push.sh
`)

	buildID, err := m.Trigger(context.Background(), TriggerRequest{Definition: def})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(m.PendingApprovals()) == 1 }, 2*time.Second, 5*time.Millisecond)

	live, err := m.Status(context.Background(), buildID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, live.Status)
	require.Len(t, live.Approvals, 1)
	assert.Equal(t, domain.ApprovalPending, live.Approvals[0].State)

	_, err = m.Approve(buildID, "deploy", "alice")
	require.NoError(t, err)

	record := waitFor(t, m, buildID)
	assert.Equal(t, domain.RunOutcomeSuccess, record.Outcome)
	require.Len(t, record.Approvals, 1)
	assert.Equal(t, domain.ApprovalApproved, record.Approvals[0].State)
	assert.Equal(t, "alice", record.Approvals[0].ApproverID)

	again, err := m.Approve(buildID, "deploy", "bob")
	assert.True(t, domain.IsAlreadyResolved(err), "got %v", err)
	assert.Equal(t, "alice", again.ApproverID)
}

func TestManager_DenyFailsStage(t *testing.T) {
	m := startManager(t, testConfig(t), WithExecutor(executor.NewFuncExecutor(nil, nil)))
	def := mustParse(t, `
name: release
stages:
  - name: deploy
    approval:
      prompt: Ship it?
    run: ./push.sh
`)

	buildID, err := m.Trigger(context.Background(), TriggerRequest{Definition: def})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(m.PendingApprovals()) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = m.Deny(buildID, "deploy", "carol", "freeze")
	require.NoError(t, err)

	record := waitFor(t, m, buildID)
	assert.Equal(t, domain.RunOutcomeFailure, record.Outcome)
	deploy, _ := record.Stage("deploy")
	assert.Contains(t, deploy.ExitDetail, "freeze")

	_, err = m.Approve(buildID, "deploy", "bob")
	var resolved *domain.AlreadyResolvedError
	require.ErrorAs(t, err, &resolved)
	assert.Equal(t, domain.ApprovalDenied, resolved.State)

	_, err = m.Deny(buildID, "deploy", "dave", "again")
	assert.True(t, domain.IsAlreadyResolved(err), "got %v", err)

	_, err = m.Approve(buildID, "other", "bob")
	assert.True(t, domain.IsNotFound(err), "got %v", err)

	stored, err := m.Status(context.Background(), buildID)
	require.NoError(t, err)
	require.Len(t, stored.Approvals, 1)
	assert.Equal(t, "carol", stored.Approvals[0].ApproverID)
}

type countingTransport struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (c *countingTransport) Send(_ context.Context, _ domain.ChannelConfig, _ domain.RenderedMessage, event domain.NotificationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *countingTransport) sent() []domain.NotificationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.NotificationEvent(nil), c.events...)
}

func TestManager_ApprovalExpiryAbortsAndNotifiesOnce(t *testing.T) {
	exec := executor.NewFuncExecutor(nil, nil)
	require.NoError(t, exec.Register("build", succeed))
	counter := &countingTransport{}

	m := startManager(t, testConfig(t),
		WithExecutor(exec),
		WithNotificationTransport(domain.ChannelLog, counter))
	def := mustParse(t, `
name: release
stages:
  - name: build
    run: make
  - name: deploy
    approval:
      prompt: Ship it?
      timeout: 20ms
    run: ./deploy.sh
`)

	buildID, err := m.Trigger(context.Background(), TriggerRequest{Definition: def})
	require.NoError(t, err)

	record := waitFor(t, m, buildID)
	assert.Equal(t, domain.RunOutcomeAborted, record.Outcome)
	deploy, _ := record.Stage("deploy")
	assert.Equal(t, domain.StageStateAborted, deploy.State)
	build, _ := record.Stage("build")
	assert.Equal(t, domain.StageStateSuccess, build.State)

	require.Len(t, record.Approvals, 1)
	assert.Equal(t, domain.ApprovalExpired, record.Approvals[0].State)

	require.NotNil(t, record.Notification)
	assert.Equal(t, domain.RunOutcomeAborted, record.Notification.RunOutcome)
	assert.True(t, m.dispatcher.Fired(buildID))

	sent := counter.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.RunOutcomeAborted, sent[0].RunOutcome)

	_, err = m.Approve(buildID, "deploy", "late")
	assert.True(t, domain.IsAlreadyResolved(err), "got %v", err)
}

// gatedStore holds Get calls once armed and refuses writes after Close.
type gatedStore struct {
	*storage.MemoryStore

	mu       sync.Mutex
	armed    bool
	entered  chan struct{}
	release  chan struct{}
	closed   bool
	lateSave bool
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryStore: storage.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedStore) Get(ctx context.Context, buildID string) (*domain.RunRecord, error) {
	g.mu.Lock()
	armed := g.armed
	g.armed = false
	g.mu.Unlock()
	if armed {
		close(g.entered)
		<-g.release
	}
	return g.MemoryStore.Get(ctx, buildID)
}

func (g *gatedStore) Save(ctx context.Context, record *domain.RunRecord) error {
	g.mu.Lock()
	if g.closed {
		g.lateSave = true
		g.mu.Unlock()
		return domain.ErrClosed
	}
	g.mu.Unlock()
	return g.MemoryStore.Save(ctx, record)
}

func (g *gatedStore) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func TestManager_StopWaitsForInFlightTrigger(t *testing.T) {
	store := newGatedStore()
	m, err := NewManager(testConfig(t), WithRunStore(store), WithExecutor(executor.NewFuncExecutor(nil, nil)))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	store.mu.Lock()
	store.armed = true
	store.mu.Unlock()

	type result struct {
		buildID string
		err     error
	}
	def := mustParse(t, "name: api\nstages:\n  - name: build\n    run: make\n")
	triggered := make(chan result, 1)
	go func() {
		id, err := m.Trigger(context.Background(), TriggerRequest{Definition: def})
		triggered <- result{id, err}
	}()
	<-store.entered

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()

	select {
	case <-stopped:
		t.Fatal("stop returned while a trigger was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	res := <-triggered
	assert.ErrorIs(t, res.err, domain.ErrNotStarted)
	require.NoError(t, <-stopped)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.False(t, store.lateSave)

	record, err := store.MemoryStore.Get(context.Background(), res.buildID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, record.Status)
	assert.Equal(t, domain.RunOutcomeAborted, record.Outcome)
}

func TestManager_CancelRunningBuild(t *testing.T) {
	exec := executor.NewFuncExecutor(nil, nil)
	require.NoError(t, exec.Register("wait", blockUntilCancelled))

	m := startManager(t, testConfig(t), WithExecutor(exec))
	def := mustParse(t, "name: slow\nstages:\n  - name: wait\n    run: sleep 100")

	buildID, err := m.Trigger(context.Background(), TriggerRequest{Definition: def})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		record, err := m.Status(context.Background(), buildID)
		if err != nil {
			return false
		}
		stage, _ := record.Stage("wait")
		return stage.State == domain.StageStateRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Cancel(buildID))
	record := waitFor(t, m, buildID)
	assert.Equal(t, domain.RunOutcomeAborted, record.Outcome)

	assert.ErrorIs(t, m.Cancel(buildID), domain.ErrNotFound)
}

func TestManager_MaxConcurrentRunsQueues(t *testing.T) {
	exec := executor.NewFuncExecutor(nil, nil)
	require.NoError(t, exec.Register("wait", blockUntilCancelled))

	config := testConfig(t)
	config.Engine.MaxConcurrentRuns = 1
	m := startManager(t, config, WithExecutor(exec))
	def := mustParse(t, "name: slow\nstages:\n  - name: wait\n    run: sleep 100")

	first, err := m.Trigger(context.Background(), TriggerRequest{Definition: def})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		record, err := m.Status(context.Background(), first)
		return err == nil && record.Status == domain.RunStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	second, err := m.Trigger(context.Background(), TriggerRequest{Definition: def})
	require.NoError(t, err)

	record, err := m.Status(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusQueued, record.Status)

	require.NoError(t, m.Cancel(second))
	queued := waitFor(t, m, second)
	assert.Equal(t, domain.RunOutcomeAborted, queued.Outcome)
	assert.Contains(t, queued.Cause.Detail, "cancelled before start")

	require.NoError(t, m.Cancel(first))
	assert.Equal(t, domain.RunOutcomeAborted, waitFor(t, m, first).Outcome)
}

func TestManager_TriggerFromCatalog(t *testing.T) {
	exec := executor.NewFuncExecutor(nil, nil)
	require.NoError(t, exec.Register("vet", succeed))

	catalog := definition.NewCatalog(nil)
	require.NoError(t, catalog.Add(mustParse(t, "name: lint\nstages:\n  - name: vet\n    run: go vet")))

	m := startManager(t, testConfig(t), WithExecutor(exec), WithCatalog(catalog))

	buildID, err := m.Trigger(context.Background(), TriggerRequest{Pipeline: "lint", BuildID: "b-42"})
	require.NoError(t, err)
	assert.Equal(t, "b-42", buildID)
	assert.Equal(t, domain.RunOutcomeSuccess, waitFor(t, m, buildID).Outcome)

	_, err = m.Trigger(context.Background(), TriggerRequest{Pipeline: "lint", BuildID: "b-42"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = m.Trigger(context.Background(), TriggerRequest{Pipeline: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_RecoversInterruptedRuns(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &domain.RunRecord{
		BuildID:  "b-old",
		Pipeline: "api",
		Status:   domain.RunStatusRunning,
		Stages: []domain.StageResult{
			{StageID: "build", State: domain.StageStateSuccess},
			{StageID: "test", State: domain.StageStateRunning},
		},
		Context: domain.RunContextSnapshot{StartTime: time.Now().Add(-time.Minute)},
	}))

	m := startManager(t, testConfig(t), WithRunStore(store), WithExecutor(executor.NewFuncExecutor(nil, nil)))

	record, err := m.Status(context.Background(), "b-old")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, record.Status)
	assert.Equal(t, domain.RunOutcomeAborted, record.Outcome)

	build, _ := record.Stage("build")
	assert.Equal(t, domain.StageStateSuccess, build.State)
	test, _ := record.Stage("test")
	assert.Equal(t, domain.StageStateAborted, test.State)
}

func TestManager_Lifecycle(t *testing.T) {
	m, err := NewManager(testConfig(t), WithExecutor(executor.NewFuncExecutor(nil, nil)))
	require.NoError(t, err)

	_, err = m.Trigger(context.Background(), TriggerRequest{Definition: mustParse(t, "name: x\nstages: []")})
	assert.ErrorIs(t, err, domain.ErrNotStarted)
	assert.ErrorIs(t, m.Stop(), domain.ErrNotStarted)

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), domain.ErrAlreadyStarted)
	require.NoError(t, m.Stop())

	_, err = NewManager(nil)
	assert.Error(t, err)
}

func TestManager_StatusPrefersLiveCompletedRecord(t *testing.T) {
	store := storage.NewMemoryStore()
	m := startManager(t, testConfig(t), WithRunStore(store))
	ctx := context.Background()

	stale := &domain.RunRecord{BuildID: "b-live", Pipeline: "api", Status: domain.RunStatusRunning}
	require.NoError(t, store.Save(ctx, stale))

	completed := &domain.RunRecord{
		BuildID:   "b-live",
		Pipeline:  "api",
		Status:    domain.RunStatusCompleted,
		Outcome:   domain.RunOutcomeFailure,
		Approvals: []domain.ApprovalRequest{{ID: "a-1", StageID: "deploy", State: domain.ApprovalDenied}},
	}
	m.mu.Lock()
	m.runs["b-live"] = &activeRun{buildID: "b-live", record: completed, cancel: func() {}, done: make(chan struct{})}
	m.mu.Unlock()
	t.Cleanup(func() { m.forget("b-live") })

	record, err := m.Status(ctx, "b-live")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, record.Status)
	assert.Equal(t, domain.RunOutcomeFailure, record.Outcome)
	require.Len(t, record.Approvals, 1)
	assert.Equal(t, domain.ApprovalDenied, record.Approvals[0].State)

	m.forget("b-live")
	record, err = m.Status(ctx, "b-live")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, record.Status)
}
