package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlreadyStarted    = errors.New("already started")
	ErrNotStarted        = errors.New("not started")
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid stage state transition")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrAlreadyDispatched = errors.New("notification already dispatched")
	ErrClosed            = errors.New("closed")
)

// StructureError reports a malformed stage graph. It is fatal: the run never starts.
type StructureError struct {
	StageID string
	Reason  string
}

func (e *StructureError) Error() string {
	if e.StageID == "" {
		return "invalid pipeline structure: " + e.Reason
	}
	return fmt.Sprintf("invalid pipeline structure at stage %q: %s", e.StageID, e.Reason)
}

func NewStructureError(stageID, reason string) *StructureError {
	return &StructureError{StageID: stageID, Reason: reason}
}

type CycleError struct {
	ParentID string
	ChildID  string
	Reason   string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cannot attach stage %q under %q: %s", e.ChildID, e.ParentID, e.Reason)
}

// UnresolvedReferenceError is returned when a condition names a parameter the
// run was not given.
type UnresolvedReferenceError struct {
	Name      string
	Condition string
	StageID   string
}

func (e *UnresolvedReferenceError) Error() string {
	if e.Condition == "" {
		return fmt.Sprintf("unresolved parameter reference %q", e.Name)
	}
	return fmt.Sprintf("unresolved parameter reference %q in condition %q", e.Name, e.Condition)
}

type ExecutionFailure struct {
	StageID  string
	ExitCode int
	Err      error
}

func (e *ExecutionFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %q failed with exit code %d", e.StageID, e.ExitCode)
	}
	return fmt.Sprintf("stage %q failed: %v", e.StageID, e.Err)
}

func (e *ExecutionFailure) Unwrap() error {
	return e.Err
}

type TimeoutExceeded struct {
	Scope   string
	ID      string
	Timeout time.Duration
}

func (e *TimeoutExceeded) Error() string {
	return fmt.Sprintf("%s %q exceeded timeout of %s", e.Scope, e.ID, e.Timeout)
}

type AlreadyResolvedError struct {
	RequestID string
	State     ApprovalState
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("approval request %s already resolved as %s", e.RequestID, e.State)
}

type DeliveryFailure struct {
	Channel string
	Err     error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("notification delivery to %s failed: %v", e.Channel, e.Err)
}

func (e *DeliveryFailure) Unwrap() error {
	return e.Err
}

type DuplicateFingerprintError struct {
	Fingerprint string
	Existing    ArtifactRef
}

func (e *DuplicateFingerprintError) Error() string {
	return fmt.Sprintf("fingerprint %s already registered for artifact %q of stage %q",
		e.Fingerprint, e.Existing.Name, e.Existing.ProducingStageID)
}

type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(op, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err}
}

func IsStructureError(err error) bool {
	var target *StructureError
	return errors.As(err, &target)
}

func IsCycleError(err error) bool {
	var target *CycleError
	return errors.As(err, &target)
}

func IsUnresolvedReference(err error) bool {
	var target *UnresolvedReferenceError
	return errors.As(err, &target)
}

func IsAlreadyResolved(err error) bool {
	var target *AlreadyResolvedError
	return errors.As(err, &target)
}

func IsDuplicateFingerprint(err error) bool {
	var target *DuplicateFingerprintError
	return errors.As(err, &target)
}

func IsTimeout(err error) bool {
	var target *TimeoutExceeded
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPreflight reports whether err rejects a run before any stage executes.
func IsPreflight(err error) bool {
	return IsStructureError(err) || IsCycleError(err) || IsUnresolvedReference(err) || errors.Is(err, ErrInvalidParameter)
}
