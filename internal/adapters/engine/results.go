package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/eleven-am/gantry/internal/domain"
)

// resultTable holds one StageResult per node. Every state change of a run
// goes through it, so the legal transitions are enforced in one place.
type resultTable struct {
	mu      sync.Mutex
	order   []string
	results map[string]*domain.StageResult
	cause   *domain.Cause
	now     func() time.Time
}

func newResultTable(nodes []domain.StageNode, now func() time.Time) *resultTable {
	t := &resultTable{
		order:   make([]string, 0, len(nodes)),
		results: make(map[string]*domain.StageResult, len(nodes)),
		now:     now,
	}
	for _, n := range nodes {
		t.order = append(t.order, n.ID)
		t.results[n.ID] = &domain.StageResult{StageID: n.ID, State: domain.StageStatePending}
	}
	return t
}

func validTransition(from, to domain.StageState) bool {
	switch from {
	case domain.StageStatePending:
		return to == domain.StageStateRunning || to == domain.StageStateSkipped || to == domain.StageStateAborted
	case domain.StageStateRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

func (t *resultTable) transition(id string, to domain.StageState, detail string, artifacts []domain.ArtifactRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.results[id]
	if !ok {
		return fmt.Errorf("stage %q: %w", id, domain.ErrNotFound)
	}
	if !validTransition(r.State, to) {
		return fmt.Errorf("stage %q %s -> %s: %w", id, r.State, to, domain.ErrInvalidTransition)
	}

	now := t.now()
	switch {
	case to == domain.StageStateRunning:
		r.StartTime = &now
	case r.State == domain.StageStateRunning:
		r.EndTime = &now
	}
	r.State = to
	if detail != "" {
		r.ExitDetail = detail
	}
	if len(artifacts) > 0 {
		r.Artifacts = append([]domain.ArtifactRef(nil), artifacts...)
	}
	return nil
}

func (t *resultTable) begin(id string) error {
	return t.transition(id, domain.StageStateRunning, "", nil)
}

func (t *resultTable) finish(id string, state domain.StageState, detail string, artifacts []domain.ArtifactRef) error {
	if !state.IsTerminal() {
		return fmt.Errorf("stage %q finish with %s: %w", id, state, domain.ErrInvalidTransition)
	}
	return t.transition(id, state, detail, artifacts)
}

// settle moves every still-pending id to state. Ids already past pending are
// left alone.
func (t *resultTable) settle(ids []string, state domain.StageState, detail string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed []string
	for _, id := range ids {
		r, ok := t.results[id]
		if !ok || r.State != domain.StageStatePending {
			continue
		}
		r.State = state
		r.ExitDetail = detail
		changed = append(changed, id)
	}
	return changed
}

// noteCause keeps the first stage that failed or aborted on its own.
func (t *resultTable) noteCause(cause domain.Cause) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cause == nil {
		t.cause = &cause
	}
}

func (t *resultTable) getCause() *domain.Cause {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cause == nil {
		return nil
	}
	c := *t.cause
	return &c
}

func (t *resultTable) state(id string) domain.StageState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.results[id]; ok {
		return r.State
	}
	return ""
}

func (t *resultTable) snapshot() []domain.StageResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.StageResult, 0, len(t.order))
	for _, id := range t.order {
		r := *t.results[id]
		r.Artifacts = append([]domain.ArtifactRef(nil), r.Artifacts...)
		out = append(out, r)
	}
	return out
}
