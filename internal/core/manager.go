package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/eleven-am/gantry/internal/adapters/approval"
	"github.com/eleven-am/gantry/internal/adapters/artifacts"
	"github.com/eleven-am/gantry/internal/adapters/condition"
	"github.com/eleven-am/gantry/internal/adapters/engine"
	"github.com/eleven-am/gantry/internal/adapters/events"
	"github.com/eleven-am/gantry/internal/adapters/executor"
	"github.com/eleven-am/gantry/internal/adapters/metrics"
	"github.com/eleven-am/gantry/internal/adapters/notify"
	"github.com/eleven-am/gantry/internal/adapters/storage"
	"github.com/eleven-am/gantry/internal/adapters/tracing"
	"github.com/eleven-am/gantry/internal/definition"
	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// Manager owns every component of a pipeline server and the builds it runs.
type Manager struct {
	config *domain.Config
	logger *slog.Logger
	runLog *ports.StructuredLogger

	executor               ports.Executor
	store                  ports.RunStore
	artifactStorage        ports.ArtifactStorage
	approvalTransports     []ports.ApprovalTransport
	notificationTransports map[domain.ChannelKind]ports.NotificationTransport
	tracing                ports.TracingProvider

	eventManager *events.Manager
	gate         *approval.Gate
	registry     *artifacts.Registry
	dispatcher   *notify.Dispatcher
	engine       *engine.Engine
	collector    *metrics.Collector
	catalog      *definition.Catalog
	metrics      *domain.ExecutionMetrics

	slots *semaphore.Weighted
	now   func() time.Time

	mu      sync.Mutex
	runs    map[string]*activeRun
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(config *domain.Config, opts ...Option) (*Manager, error) {
	if config == nil {
		return nil, domain.NewConfigError("", domain.ErrInvalidInput)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.ResolvePaths()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		config:                 config,
		logger:                 config.Logger.With("component", "gantry"),
		runLog:                 ports.NewStructuredLogger(config.Logger, "run-manager"),
		notificationTransports: make(map[domain.ChannelKind]ports.NotificationTransport),
		metrics:                domain.NewExecutionMetrics(),
		slots:                  semaphore.NewWeighted(int64(config.Engine.MaxConcurrentRuns)),
		now:                    time.Now,
		runs:                   make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.buildComponents(); err != nil {
		if m.store != nil {
			_ = m.store.Close()
		}
		return nil, err
	}
	return m, nil
}

func (m *Manager) buildComponents() error {
	logger := m.config.Logger

	if m.store == nil {
		store, err := storage.Open(m.config.Storage, logger)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		m.store = store
	}

	if m.artifactStorage == nil {
		artifactStorage, err := m.openArtifactStorage()
		if err != nil {
			return err
		}
		m.artifactStorage = artifactStorage
	}

	if m.tracing == nil {
		provider, err := tracing.NewTracingProvider(m.config.Tracing, logger)
		if err != nil {
			return fmt.Errorf("create tracing provider: %w", err)
		}
		m.tracing = provider
	}

	if m.executor == nil {
		m.executor = executor.NewShellExecutor(m.config.Executor, m.artifactStorage, logger)
	}

	if m.catalog == nil {
		m.catalog = definition.NewCatalog(logger)
	}

	m.eventManager = events.NewManager(logger)

	transports := append(approval.MultiTransport{approval.NewLogTransport(logger)}, m.approvalTransports...)
	m.gate = approval.NewGate(m.config.Approval, transports, m.eventManager, m.metrics, logger)
	for _, t := range m.approvalTransports {
		if auto, ok := t.(*approval.AutoApprover); ok {
			auto.Bind(m.gate)
		}
	}

	m.registry = artifacts.NewRegistry(m.config.Artifacts, m.artifactStorage, m.eventManager, logger)
	m.registry.AddPinSource(m.gate)

	m.dispatcher = notify.NewDispatcher(m.config.Notifications, notify.DefaultRenderTable(), m.metrics, logger)
	m.dispatcher.RegisterTransport(domain.ChannelLog, notify.NewLogTransport(logger))
	webhook := notify.NewWebhookTransport(&http.Client{Timeout: m.config.Notifications.Timeout}, nil)
	m.dispatcher.RegisterTransport(domain.ChannelWebhook, notify.NewBreakerTransport(webhook, m.config.Notifications.Breaker, logger))
	for kind, t := range m.notificationTransports {
		m.dispatcher.RegisterTransport(kind, t)
	}

	m.collector = metrics.NewCollector(logger)
	if err := m.collector.Attach(m.eventManager); err != nil {
		return fmt.Errorf("attach metrics collector: %w", err)
	}

	m.engine = engine.NewEngine(m.config.Engine, engine.Dependencies{
		Executor:  m.executor,
		Evaluator: condition.NewEvaluator(),
		Gate:      m.gate,
		Artifacts: m.registry,
		Events:    m.eventManager,
		Metrics:   m.metrics,
		Tracing:   m.tracing,
	}, logger)
	return nil
}

func (m *Manager) openArtifactStorage() (ports.ArtifactStorage, error) {
	switch m.config.Artifacts.Backend {
	case domain.ArtifactBackendS3:
		s3Storage, err := artifacts.NewS3Storage(context.Background(), m.config.Artifacts.S3, m.config.Logger)
		if err != nil {
			return nil, fmt.Errorf("open s3 artifact storage: %w", err)
		}
		return s3Storage, nil
	default:
		fsStorage, err := artifacts.NewFileStorage(m.config.Artifacts.Dir)
		if err != nil {
			return nil, fmt.Errorf("open artifact directory: %w", err)
		}
		return fsStorage, nil
	}
}

// Start loads pipeline definitions, restores the artifact registry from stored
// runs and closes out runs a previous process left unfinished.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.started = true
	m.mu.Unlock()

	if err := m.eventManager.Start(m.ctx); err != nil {
		return fmt.Errorf("start event manager: %w", err)
	}

	if dir := m.config.Pipelines.Dir; dir != "" {
		if err := m.catalog.LoadDir(dir); err != nil {
			return fmt.Errorf("load pipelines: %w", err)
		}
	}

	if err := m.recover(ctx); err != nil {
		return err
	}

	m.logger.Info("gantry started",
		"pipelines", len(m.catalog.List()),
		"storage", m.config.Storage.Driver,
		"artifacts", m.config.Artifacts.Backend,
		"workers", m.config.Engine.Workers)
	return nil
}

func (m *Manager) recover(ctx context.Context) error {
	summaries, err := m.store.List(ctx, domain.ListOptions{})
	if err != nil {
		return fmt.Errorf("list stored runs: %w", err)
	}

	restored := 0
	for _, summary := range summaries {
		record, err := m.store.Get(ctx, summary.BuildID)
		if err != nil {
			m.logger.Warn("failed to load stored run", "build_id", summary.BuildID, "error", err)
			continue
		}
		if record.Status != domain.RunStatusCompleted {
			m.abandon(ctx, record)
		}
		m.registry.Restore(record.Artifacts)
		restored += len(record.Artifacts)
	}

	m.logger.Debug("run history recovered", "runs", len(summaries), "artifacts", restored)
	return nil
}

// abandon completes a record whose process stopped before the run finished.
func (m *Manager) abandon(ctx context.Context, record *domain.RunRecord) {
	completed := m.now()
	record.Status = domain.RunStatusCompleted
	record.Outcome = domain.RunOutcomeAborted
	record.CompletedAt = &completed
	if record.Cause == nil {
		record.Cause = &domain.Cause{State: domain.StageStateAborted, Detail: "server stopped before the run finished"}
	}
	for i := range record.Stages {
		if !record.Stages[i].State.IsTerminal() {
			record.Stages[i].State = domain.StageStateAborted
			record.Stages[i].ExitDetail = "interrupted"
		}
	}
	if err := m.store.Save(ctx, record); err != nil {
		m.logger.Error("failed to close out interrupted run", "build_id", record.BuildID, "error", err)
		return
	}
	m.logger.Warn("closed out interrupted run", "build_id", record.BuildID)
}

// Stop cancels every active build, waits for them to be recorded and closes
// the stores.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return domain.ErrNotStarted
	}
	m.started = false
	for _, run := range m.runs {
		run.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.tracing.Shutdown(shutdownCtx); err != nil {
		m.logger.Warn("tracing shutdown failed", "error", err)
	}
	if err := m.eventManager.Stop(); err != nil {
		m.logger.Warn("event manager stop failed", "error", err)
	}
	if err := m.store.Close(); err != nil {
		return fmt.Errorf("close run store: %w", err)
	}

	m.logger.Info("gantry stopped")
	return nil
}

func (m *Manager) Catalog() *definition.Catalog {
	return m.catalog
}

func (m *Manager) Events() ports.EventManager {
	return m.eventManager
}

func (m *Manager) Collector() *metrics.Collector {
	return m.collector
}

func (m *Manager) Metrics() domain.ExecutionMetrics {
	return m.metrics.GetSnapshot()
}

func (m *Manager) PendingApprovals() []domain.ApprovalRequest {
	return m.gate.Pending()
}
