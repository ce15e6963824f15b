package domain

import (
	"sync/atomic"
	"time"
)

type ExecutionMetrics struct {
	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`
	RunsSucceeded int64 `json:"runs_succeeded"`
	RunsFailed    int64 `json:"runs_failed"`
	RunsUnstable  int64 `json:"runs_unstable"`
	RunsAborted   int64 `json:"runs_aborted"`

	StagesExecuted int64 `json:"stages_executed"`
	StagesSkipped  int64 `json:"stages_skipped"`
	StagesFailed   int64 `json:"stages_failed"`
	StagesTimedOut int64 `json:"stages_timed_out"`

	ApprovalsRequested int64 `json:"approvals_requested"`
	ApprovalsExpired   int64 `json:"approvals_expired"`

	NotificationsSent   int64 `json:"notifications_sent"`
	NotificationsFailed int64 `json:"notifications_failed"`

	TotalExecutionTimeNs int64 `json:"total_execution_time_ns"`
	StageExecutionCount  int64 `json:"stage_execution_count"`
}

func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{}
}

func (m *ExecutionMetrics) IncrementRunsStarted() {
	atomic.AddInt64(&m.RunsStarted, 1)
}

func (m *ExecutionMetrics) RecordRunOutcome(outcome RunOutcome) {
	atomic.AddInt64(&m.RunsCompleted, 1)
	switch outcome {
	case RunOutcomeSuccess:
		atomic.AddInt64(&m.RunsSucceeded, 1)
	case RunOutcomeFailure:
		atomic.AddInt64(&m.RunsFailed, 1)
	case RunOutcomeUnstable:
		atomic.AddInt64(&m.RunsUnstable, 1)
	case RunOutcomeAborted:
		atomic.AddInt64(&m.RunsAborted, 1)
	}
}

func (m *ExecutionMetrics) IncrementStagesExecuted() {
	atomic.AddInt64(&m.StagesExecuted, 1)
}

func (m *ExecutionMetrics) IncrementStagesSkipped() {
	atomic.AddInt64(&m.StagesSkipped, 1)
}

func (m *ExecutionMetrics) IncrementStagesFailed() {
	atomic.AddInt64(&m.StagesFailed, 1)
}

func (m *ExecutionMetrics) IncrementStagesTimedOut() {
	atomic.AddInt64(&m.StagesTimedOut, 1)
}

func (m *ExecutionMetrics) IncrementApprovalsRequested() {
	atomic.AddInt64(&m.ApprovalsRequested, 1)
}

func (m *ExecutionMetrics) IncrementApprovalsExpired() {
	atomic.AddInt64(&m.ApprovalsExpired, 1)
}

func (m *ExecutionMetrics) IncrementNotificationsSent() {
	atomic.AddInt64(&m.NotificationsSent, 1)
}

func (m *ExecutionMetrics) IncrementNotificationsFailed() {
	atomic.AddInt64(&m.NotificationsFailed, 1)
}

func (m *ExecutionMetrics) AddExecutionTime(duration time.Duration) {
	atomic.AddInt64(&m.TotalExecutionTimeNs, int64(duration))
	atomic.AddInt64(&m.StageExecutionCount, 1)
}

func (m *ExecutionMetrics) GetSnapshot() ExecutionMetrics {
	return ExecutionMetrics{
		RunsStarted:          atomic.LoadInt64(&m.RunsStarted),
		RunsCompleted:        atomic.LoadInt64(&m.RunsCompleted),
		RunsSucceeded:        atomic.LoadInt64(&m.RunsSucceeded),
		RunsFailed:           atomic.LoadInt64(&m.RunsFailed),
		RunsUnstable:         atomic.LoadInt64(&m.RunsUnstable),
		RunsAborted:          atomic.LoadInt64(&m.RunsAborted),
		StagesExecuted:       atomic.LoadInt64(&m.StagesExecuted),
		StagesSkipped:        atomic.LoadInt64(&m.StagesSkipped),
		StagesFailed:         atomic.LoadInt64(&m.StagesFailed),
		StagesTimedOut:       atomic.LoadInt64(&m.StagesTimedOut),
		ApprovalsRequested:   atomic.LoadInt64(&m.ApprovalsRequested),
		ApprovalsExpired:     atomic.LoadInt64(&m.ApprovalsExpired),
		NotificationsSent:    atomic.LoadInt64(&m.NotificationsSent),
		NotificationsFailed:  atomic.LoadInt64(&m.NotificationsFailed),
		TotalExecutionTimeNs: atomic.LoadInt64(&m.TotalExecutionTimeNs),
		StageExecutionCount:  atomic.LoadInt64(&m.StageExecutionCount),
	}
}

func (m *ExecutionMetrics) GetAverageExecutionTime() time.Duration {
	totalNs := atomic.LoadInt64(&m.TotalExecutionTimeNs)
	count := atomic.LoadInt64(&m.StageExecutionCount)

	if count == 0 {
		return 0
	}

	return time.Duration(totalNs / count)
}
