package domain

import (
	"errors"
	"time"
)

// RunOptions are the per-run scheduling switches. A pipeline definition may
// override the engine defaults.
type RunOptions struct {
	FailFast          bool          `json:"fail_fast"`
	ContinueOnFailure bool          `json:"continue_on_failure"`
	Workers           int           `json:"workers"`
	RunTimeout        time.Duration `json:"run_timeout,omitempty"`
	StageTimeout      time.Duration `json:"stage_timeout,omitempty"`
}

func (c EngineConfig) RunOptions() RunOptions {
	return RunOptions{
		FailFast:          c.FailFast,
		ContinueOnFailure: c.ContinueOnFailure,
		Workers:           c.Workers,
		RunTimeout:        c.RunTimeout,
		StageTimeout:      c.StageTimeout,
	}
}

// OptionOverrides carries the options a pipeline sets explicitly. Nil fields
// keep the engine default.
type OptionOverrides struct {
	FailFast          *bool          `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
	ContinueOnFailure *bool          `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`
	Workers           *int           `json:"workers,omitempty" yaml:"workers,omitempty"`
	Timeout           *time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	StageTimeout      *time.Duration `json:"stage_timeout,omitempty" yaml:"stage_timeout,omitempty"`
}

func (o RunOptions) Apply(overrides OptionOverrides) RunOptions {
	if overrides.FailFast != nil {
		o.FailFast = *overrides.FailFast
	}
	if overrides.ContinueOnFailure != nil {
		o.ContinueOnFailure = *overrides.ContinueOnFailure
	}
	if overrides.Workers != nil && *overrides.Workers > 0 {
		o.Workers = *overrides.Workers
	}
	if overrides.Timeout != nil {
		o.RunTimeout = *overrides.Timeout
	}
	if overrides.StageTimeout != nil {
		o.StageTimeout = *overrides.StageTimeout
	}
	return o
}

// CauseFromError describes a preflight rejection as a run cause.
func CauseFromError(err error) *Cause {
	if err == nil {
		return nil
	}
	cause := &Cause{State: StageStateAborted, Detail: err.Error()}

	var structure *StructureError
	var cycle *CycleError
	var unresolved *UnresolvedReferenceError
	switch {
	case errors.As(err, &structure):
		cause.StageID = structure.StageID
	case errors.As(err, &cycle):
		cause.StageID = cycle.ChildID
	case errors.As(err, &unresolved):
		cause.StageID = unresolved.StageID
		cause.Condition = unresolved.Condition
	}
	return cause
}
