package notify

import (
	"github.com/eleven-am/gantry/internal/domain"
)

// EventFromRecord builds the notification for a finished run record.
func EventFromRecord(record *domain.RunRecord) domain.NotificationEvent {
	summary := domain.NotificationSummary{
		BuildID:   record.BuildID,
		Pipeline:  record.Pipeline,
		Duration:  record.Duration(),
		CommitRef: record.Context.CommitRef,
	}
	if record.Cause != nil {
		summary.FailingStageID = record.Cause.StageID
		summary.Detail = record.Cause.Detail
	}
	if summary.FailingStageID == "" && record.Outcome == domain.RunOutcomeUnstable {
		for _, s := range record.Stages {
			if s.State == domain.StageStateUnstable && record.Root != s.StageID && isLeaf(record, s.StageID) {
				summary.FailingStageID = s.StageID
				break
			}
		}
	}
	return domain.NotificationEvent{RunOutcome: record.Outcome, Summary: summary}
}

func isLeaf(record *domain.RunRecord, stageID string) bool {
	for _, n := range record.Nodes {
		if n.ID == stageID {
			return n.Kind == domain.StageKindLeaf
		}
	}
	return false
}
