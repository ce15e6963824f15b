// Package gantry is an in-process CI/CD pipeline orchestration engine.
//
// A pipeline is a tree of stages: leaf stages run work, sequential and
// parallel groups order it. Stages can be guarded by conditions over build
// parameters, gated behind human approval, bounded by timeouts and can
// publish artifacts. Every finished build is recorded and reported once to
// the configured notification channels.
//
// Basic usage:
//
//	manager, err := gantry.New("./data", logger)
//	if err != nil { ... }
//	if err := manager.Start(ctx); err != nil { ... }
//	defer manager.Stop()
//
//	def, err := gantry.LoadPipeline("pipelines/release.yaml")
//	buildID, err := manager.Trigger(ctx, gantry.TriggerRequest{
//	    Definition: def,
//	    CommitRef:  "9f2c1e7",
//	    Parameters: map[string]string{"DEPLOY_ENV": "production"},
//	})
//	record, err := manager.Wait(ctx, buildID)
package gantry

import (
	"log/slog"

	"github.com/eleven-am/gantry/internal/adapters/approval"
	"github.com/eleven-am/gantry/internal/adapters/executor"
	"github.com/eleven-am/gantry/internal/core"
	"github.com/eleven-am/gantry/internal/definition"
	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// Manager runs builds and keeps their records.
type Manager = core.Manager

type TriggerRequest = core.TriggerRequest

type Option = core.Option

// Definition is a parsed pipeline document.
type Definition = definition.Definition

type Catalog = definition.Catalog

type RunRecord = domain.RunRecord

type RunSummary = domain.RunSummary

type ListOptions = domain.ListOptions

type StageResult = domain.StageResult

type StageState = domain.StageState

const (
	StageStatePending  = domain.StageStatePending
	StageStateRunning  = domain.StageStateRunning
	StageStateSuccess  = domain.StageStateSuccess
	StageStateUnstable = domain.StageStateUnstable
	StageStateFailed   = domain.StageStateFailed
	StageStateAborted  = domain.StageStateAborted
	StageStateSkipped  = domain.StageStateSkipped
)

type RunOutcome = domain.RunOutcome

const (
	RunOutcomeSuccess  = domain.RunOutcomeSuccess
	RunOutcomeFailure  = domain.RunOutcomeFailure
	RunOutcomeUnstable = domain.RunOutcomeUnstable
	RunOutcomeAborted  = domain.RunOutcomeAborted
)

type ApprovalRequest = domain.ApprovalRequest

type ArtifactRef = domain.ArtifactRef

type NotificationEvent = domain.NotificationEvent

type ExecutionMetrics = domain.ExecutionMetrics

// Executor runs the work of a leaf stage.
type Executor = ports.Executor

type ExecutionRequest = ports.ExecutionRequest

// StageFunc is in-process work for one stage, registered on a FuncExecutor.
type StageFunc = executor.StageFunc

type FuncExecutor = executor.FuncExecutor

type ApprovalTransport = ports.ApprovalTransport

type NotificationTransport = ports.NotificationTransport

type ArtifactStorage = ports.ArtifactStorage

type RunStore = ports.RunStore

// New creates a manager with default configuration rooted at dataDir.
func New(dataDir string, logger *slog.Logger, opts ...Option) (*Manager, error) {
	return core.NewManager(domain.NewConfigFromSimple(dataDir, logger), opts...)
}

func NewWithConfig(config *Config, opts ...Option) (*Manager, error) {
	return core.NewManager(config, opts...)
}

func LoadPipeline(path string) (*Definition, error) {
	return definition.Load(path)
}

func ParsePipeline(data []byte) (*Definition, error) {
	return definition.Parse(data)
}

// NewFuncExecutor dispatches stages to registered functions and hands the
// rest to fallback, which may be nil.
func NewFuncExecutor(fallback Executor, logger *slog.Logger) *FuncExecutor {
	return executor.NewFuncExecutor(fallback, logger)
}

// NewAutoApprover approves every request as approverID. Pass it to
// WithApprovalTransport for unattended runs.
func NewAutoApprover(approverID string) ApprovalTransport {
	return approval.NewAutoApprover(approverID)
}

func WithExecutor(e Executor) Option { return core.WithExecutor(e) }

func WithRunStore(s RunStore) Option { return core.WithRunStore(s) }

func WithArtifactStorage(s ArtifactStorage) Option { return core.WithArtifactStorage(s) }

func WithApprovalTransport(t ApprovalTransport) Option { return core.WithApprovalTransport(t) }

func WithNotificationTransport(kind ChannelKind, t NotificationTransport) Option {
	return core.WithNotificationTransport(kind, t)
}

func WithCatalog(c *Catalog) Option { return core.WithCatalog(c) }
