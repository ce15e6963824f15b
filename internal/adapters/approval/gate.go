package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
	"github.com/google/uuid"
)

const (
	reasonDeadline  = "approval deadline elapsed"
	reasonCancelled = "run cancelled while awaiting approval"
)

type entry struct {
	req   domain.ApprovalRequest
	done  chan struct{}
	timer *time.Timer
}

// Gate suspends gated stages until an approver resolves the request or its
// deadline passes. Every request is resolved exactly once.
type Gate struct {
	config    domain.ApprovalConfig
	transport ports.ApprovalTransport
	events    ports.EventManager
	metrics   *domain.ExecutionMetrics
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	requests map[string]*entry
	byStage  map[string]string
	byBuild  map[string][]string
}

func NewGate(config domain.ApprovalConfig, transport ports.ApprovalTransport, events ports.EventManager, metrics *domain.ExecutionMetrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = domain.NewExecutionMetrics()
	}
	return &Gate{
		config:    config,
		transport: transport,
		events:    events,
		metrics:   metrics,
		logger:    logger.With("component", "approval-gate"),
		now:       time.Now,
		requests:  make(map[string]*entry),
		byStage:   make(map[string]string),
		byBuild:   make(map[string][]string),
	}
}

func (g *Gate) Await(ctx context.Context, buildID string, stage domain.StageNode, pins []string) (domain.ApprovalRequest, error) {
	timeout := g.config.DefaultTimeout
	prompt := fmt.Sprintf("Approve stage %s?", stage.ID)
	if stage.Approval != nil {
		if stage.Approval.Timeout > 0 {
			timeout = stage.Approval.Timeout
		}
		if stage.Approval.Prompt != "" {
			prompt = stage.Approval.Prompt
		}
	}

	now := g.now()
	e := &entry{
		req: domain.ApprovalRequest{
			ID:           uuid.New().String(),
			BuildID:      buildID,
			StageID:      stage.ID,
			Prompt:       prompt,
			Deadline:     now.Add(timeout),
			State:        domain.ApprovalPending,
			CreatedAt:    now,
			ArtifactRefs: append([]string(nil), pins...),
		},
		done: make(chan struct{}),
	}
	id := e.req.ID

	g.mu.Lock()
	g.requests[id] = e
	g.byStage[stageKey(buildID, stage.ID)] = id
	g.byBuild[buildID] = append(g.byBuild[buildID], id)
	e.timer = time.AfterFunc(timeout, func() {
		if _, err := g.resolve(id, domain.ApprovalExpired, "", reasonDeadline); err == nil {
			g.logger.Info("approval expired", "build_id", buildID, "stage_id", stage.ID, "request_id", id)
		}
	})
	req := e.req
	g.mu.Unlock()

	g.metrics.IncrementApprovalsRequested()
	g.logger.Info("approval requested",
		"build_id", buildID,
		"stage_id", stage.ID,
		"request_id", id,
		"deadline", req.Deadline)

	if g.events != nil {
		g.events.PublishApprovalRequested(&domain.ApprovalRequestedEvent{Request: req})
	}
	if g.transport != nil {
		if err := g.transport.RequestApproval(ctx, req); err != nil {
			g.logger.Warn("approval transport failed; request stays open",
				"build_id", buildID,
				"request_id", id,
				"error", err)
		}
	}

	select {
	case <-e.done:
		return g.snapshot(id), nil
	case <-ctx.Done():
		_, _ = g.resolve(id, domain.ApprovalExpired, "", reasonCancelled)
		<-e.done
		return g.snapshot(id), ctx.Err()
	}
}

func (g *Gate) Approve(requestID, approverID string) (domain.ApprovalRequest, error) {
	if approverID == "" {
		return domain.ApprovalRequest{}, fmt.Errorf("approver id: %w", domain.ErrInvalidInput)
	}
	return g.resolve(requestID, domain.ApprovalApproved, approverID, "")
}

func (g *Gate) Deny(requestID, approverID, reason string) (domain.ApprovalRequest, error) {
	if approverID == "" {
		return domain.ApprovalRequest{}, fmt.Errorf("approver id: %w", domain.ErrInvalidInput)
	}
	return g.resolve(requestID, domain.ApprovalDenied, approverID, reason)
}

func (g *Gate) resolve(requestID string, state domain.ApprovalState, approverID, reason string) (domain.ApprovalRequest, error) {
	g.mu.Lock()
	e, ok := g.requests[requestID]
	if !ok {
		g.mu.Unlock()
		return domain.ApprovalRequest{}, fmt.Errorf("approval request %s: %w", requestID, domain.ErrNotFound)
	}
	if !e.req.IsOpen() {
		resolved := e.req
		g.mu.Unlock()
		return resolved, &domain.AlreadyResolvedError{RequestID: requestID, State: resolved.State}
	}

	now := g.now()
	e.req.State = state
	e.req.ApproverID = approverID
	e.req.Reason = reason
	e.req.ResolvedAt = &now
	if e.timer != nil {
		e.timer.Stop()
	}
	close(e.done)
	resolved := e.req
	g.mu.Unlock()

	if state == domain.ApprovalExpired {
		g.metrics.IncrementApprovalsExpired()
	}
	g.logger.Info("approval resolved",
		"build_id", resolved.BuildID,
		"stage_id", resolved.StageID,
		"request_id", requestID,
		"state", state,
		"approver", approverID)

	if g.events != nil {
		g.events.PublishApprovalResolved(&domain.ApprovalResolvedEvent{Request: resolved})
	}
	return resolved, nil
}

func (g *Gate) Get(requestID string) (domain.ApprovalRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.requests[requestID]
	if !ok {
		return domain.ApprovalRequest{}, fmt.Errorf("approval request %s: %w", requestID, domain.ErrNotFound)
	}
	return e.req, nil
}

// Find returns the most recent request for a stage of a build.
func (g *Gate) Find(buildID, stageID string) (domain.ApprovalRequest, error) {
	g.mu.Lock()
	id, ok := g.byStage[stageKey(buildID, stageID)]
	g.mu.Unlock()
	if !ok {
		return domain.ApprovalRequest{}, fmt.Errorf("approval for %s/%s: %w", buildID, stageID, domain.ErrNotFound)
	}
	return g.Get(id)
}

// History lists every request of a build in creation order.
func (g *Gate) History(buildID string) []domain.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := g.byBuild[buildID]
	out := make([]domain.ApprovalRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.requests[id].req)
	}
	return out
}

func (g *Gate) Pending() []domain.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []domain.ApprovalRequest
	for _, e := range g.requests {
		if e.req.IsOpen() {
			out = append(out, e.req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PinnedArtifacts returns the fingerprints referenced by open requests.
func (g *Gate) PinnedArtifacts() map[string]bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	pins := make(map[string]bool)
	for _, e := range g.requests {
		if !e.req.IsOpen() {
			continue
		}
		for _, fp := range e.req.ArtifactRefs {
			pins[fp] = true
		}
	}
	return pins
}

// Release drops the resolved requests of a finished build.
func (g *Gate) Release(buildID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.byBuild[buildID][:0]
	for _, id := range g.byBuild[buildID] {
		e := g.requests[id]
		if e.req.IsOpen() {
			remaining = append(remaining, id)
			continue
		}
		delete(g.requests, id)
		if g.byStage[stageKey(buildID, e.req.StageID)] == id {
			delete(g.byStage, stageKey(buildID, e.req.StageID))
		}
	}
	if len(remaining) == 0 {
		delete(g.byBuild, buildID)
		return
	}
	g.byBuild[buildID] = remaining
}

func (g *Gate) snapshot(id string) domain.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[id].req
}

func stageKey(buildID, stageID string) string {
	return buildID + "/" + stageID
}
