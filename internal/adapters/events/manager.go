package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/google/uuid"
)

const subscriptionBuffer = 256

const (
	EventRunStarted        = "run.started"
	EventRunCompleted      = "run.completed"
	EventStageStarted      = "stage.started"
	EventStageCompleted    = "stage.completed"
	EventApprovalRequested = "approval.requested"
	EventApprovalResolved  = "approval.resolved"
	EventArtifactRecorded  = "artifact.recorded"
)

type Manager struct {
	logger *slog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	running       bool
	stopped       bool
	ctx           context.Context
	cancel        context.CancelFunc

	runStartedHandlers        []func(*domain.RunStartedEvent)
	runCompletedHandlers      []func(*domain.RunCompletedEvent)
	stageStartedHandlers      []func(*domain.StageStartedEvent)
	stageCompletedHandlers    []func(*domain.StageCompletedEvent)
	approvalRequestedHandlers []func(*domain.ApprovalRequestedEvent)
	approvalResolvedHandlers  []func(*domain.ApprovalResolvedEvent)
	artifactRecordedHandlers  []func(*domain.ArtifactRecordedEvent)
}

type subscription struct {
	id      string
	pattern string
	channel chan interface{}
	dropped int
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		logger:        logger.With("component", "event-manager"),
		subscriptions: make(map[string]*subscription),
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return domain.ErrAlreadyStarted
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.stopped = false

	m.logger.Debug("event manager started")
	return nil
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return domain.ErrNotStarted
	}

	m.cancel()

	for id, sub := range m.subscriptions {
		close(sub.channel)
		delete(m.subscriptions, id)
	}

	m.running = false
	m.stopped = true
	m.logger.Debug("event manager stopped")
	return nil
}

func (m *Manager) OnRunStarted(handler func(*domain.RunStartedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runStartedHandlers = append(m.runStartedHandlers, handler)
	return nil
}

func (m *Manager) OnRunCompleted(handler func(*domain.RunCompletedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCompletedHandlers = append(m.runCompletedHandlers, handler)
	return nil
}

func (m *Manager) OnStageStarted(handler func(*domain.StageStartedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stageStartedHandlers = append(m.stageStartedHandlers, handler)
	return nil
}

func (m *Manager) OnStageCompleted(handler func(*domain.StageCompletedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stageCompletedHandlers = append(m.stageCompletedHandlers, handler)
	return nil
}

func (m *Manager) OnApprovalRequested(handler func(*domain.ApprovalRequestedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvalRequestedHandlers = append(m.approvalRequestedHandlers, handler)
	return nil
}

func (m *Manager) OnApprovalResolved(handler func(*domain.ApprovalResolvedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvalResolvedHandlers = append(m.approvalResolvedHandlers, handler)
	return nil
}

func (m *Manager) OnArtifactRecorded(handler func(*domain.ArtifactRecordedEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifactRecordedHandlers = append(m.artifactRecordedHandlers, handler)
	return nil
}

// SubscribeToBuild delivers every event of the build in publish order. Slow
// readers lose events once the buffer fills.
func (m *Manager) SubscribeToBuild(buildID string) (<-chan interface{}, func(), error) {
	if buildID == "" {
		return nil, nil, domain.ErrInvalidInput
	}
	return m.subscribe(buildID + ":*")
}

func (m *Manager) subscribe(pattern string) (<-chan interface{}, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, nil, domain.ErrClosed
	}

	sub := &subscription{
		id:      uuid.New().String(),
		pattern: pattern,
		channel: make(chan interface{}, subscriptionBuffer),
	}
	m.subscriptions[sub.id] = sub

	cleanup := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subscriptions[sub.id]; ok {
			close(sub.channel)
			delete(m.subscriptions, sub.id)
		}
	}
	return sub.channel, cleanup, nil
}

func (m *Manager) PublishRunStarted(event *domain.RunStartedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.RunStartedEvent), len(m.runStartedHandlers))
	copy(handlers, m.runStartedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		go m.safeCall(func() { handler(event) })
	}
	m.fanOut(event.BuildID+":"+EventRunStarted, event)
}

func (m *Manager) PublishRunCompleted(event *domain.RunCompletedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.RunCompletedEvent), len(m.runCompletedHandlers))
	copy(handlers, m.runCompletedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		go m.safeCall(func() { handler(event) })
	}
	m.fanOut(event.BuildID+":"+EventRunCompleted, event)
}

func (m *Manager) PublishStageStarted(event *domain.StageStartedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.StageStartedEvent), len(m.stageStartedHandlers))
	copy(handlers, m.stageStartedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		go m.safeCall(func() { handler(event) })
	}
	m.fanOut(event.BuildID+":"+EventStageStarted, event)
}

func (m *Manager) PublishStageCompleted(event *domain.StageCompletedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.StageCompletedEvent), len(m.stageCompletedHandlers))
	copy(handlers, m.stageCompletedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		go m.safeCall(func() { handler(event) })
	}
	m.fanOut(event.BuildID+":"+EventStageCompleted, event)
}

func (m *Manager) PublishApprovalRequested(event *domain.ApprovalRequestedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.ApprovalRequestedEvent), len(m.approvalRequestedHandlers))
	copy(handlers, m.approvalRequestedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		go m.safeCall(func() { handler(event) })
	}
	m.fanOut(event.Request.BuildID+":"+EventApprovalRequested, event)
}

func (m *Manager) PublishApprovalResolved(event *domain.ApprovalResolvedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.ApprovalResolvedEvent), len(m.approvalResolvedHandlers))
	copy(handlers, m.approvalResolvedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		go m.safeCall(func() { handler(event) })
	}
	m.fanOut(event.Request.BuildID+":"+EventApprovalResolved, event)
}

func (m *Manager) PublishArtifactRecorded(event *domain.ArtifactRecordedEvent) {
	m.mu.RLock()
	handlers := make([]func(*domain.ArtifactRecordedEvent), len(m.artifactRecordedHandlers))
	copy(handlers, m.artifactRecordedHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		go m.safeCall(func() { handler(event) })
	}
	m.fanOut(event.Artifact.BuildID+":"+EventArtifactRecorded, event)
}

func (m *Manager) fanOut(key string, event interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		if !m.patternMatches(sub.pattern, key) {
			continue
		}
		select {
		case sub.channel <- event:
		default:
			sub.dropped++
			m.logger.Warn("dropping event for slow subscriber",
				"subscription", sub.id,
				"key", key,
				"dropped", sub.dropped)
		}
	}
}

func (m *Manager) patternMatches(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

func (m *Manager) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}
