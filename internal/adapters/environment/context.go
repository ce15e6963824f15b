package environment

import (
	"fmt"
	"sort"
	"time"

	"github.com/eleven-am/gantry/internal/domain"
)

const (
	VarBuildID   = "BUILD_ID"
	VarCommitRef = "COMMIT_REF"
)

// RunContext is the state shared by every stage of one run. Parameters are
// fixed at creation; environment changes happen only through scope pushes.
type RunContext struct {
	BuildID   string
	CommitRef string
	StartTime time.Time

	params map[string]string
	root   *Scope
}

func NewRunContext(buildID, commitRef string, params, env map[string]string, start time.Time) (*RunContext, error) {
	base := map[string]string{
		VarBuildID:   buildID,
		VarCommitRef: commitRef,
	}
	vars, err := domain.MergeEnvironment(base, env)
	if err != nil {
		return nil, fmt.Errorf("build root environment: %w", err)
	}

	return &RunContext{
		BuildID:   buildID,
		CommitRef: commitRef,
		StartTime: start,
		params:    copyMap(params),
		root:      &Scope{vars: vars},
	}, nil
}

func (rc *RunContext) Parameters() map[string]string {
	return copyMap(rc.params)
}

func (rc *RunContext) Param(name string) (string, bool) {
	v, ok := rc.params[name]
	return v, ok
}

func (rc *RunContext) Root() *Scope {
	return rc.root
}

func (rc *RunContext) Snapshot() domain.RunContextSnapshot {
	return domain.RunContextSnapshot{
		BuildID:     rc.BuildID,
		CommitRef:   rc.CommitRef,
		StartTime:   rc.StartTime,
		Parameters:  rc.Parameters(),
		Environment: rc.root.Vars(),
	}
}

// Scope is an immutable view of the environment for one subtree. Push never
// touches the receiver, so concurrent stages can share ancestors without locks.
type Scope struct {
	parent *Scope
	owner  string
	vars   map[string]string
}

func (s *Scope) Push(owner string, overrides map[string]string) (*Scope, error) {
	if len(overrides) == 0 {
		return &Scope{parent: s, owner: owner, vars: s.vars}, nil
	}

	vars, err := domain.MergeEnvironment(s.vars, overrides)
	if err != nil {
		return nil, fmt.Errorf("push scope for %s: %w", owner, err)
	}
	return &Scope{parent: s, owner: owner, vars: vars}, nil
}

// Pop returns the enclosing scope, or nil at the root.
func (s *Scope) Pop() *Scope {
	return s.parent
}

func (s *Scope) Owner() string {
	return s.owner
}

func (s *Scope) Depth() int {
	depth := 0
	for p := s.parent; p != nil; p = p.parent {
		depth++
	}
	return depth
}

func (s *Scope) Lookup(name string) (string, bool) {
	v, ok := s.vars[name]
	return v, ok
}

func (s *Scope) Vars() map[string]string {
	return copyMap(s.vars)
}

// Environ renders the scope as sorted KEY=VALUE pairs for exec.Cmd.
func (s *Scope) Environ() []string {
	keys := make([]string, 0, len(s.vars))
	for k := range s.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.vars[k])
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
