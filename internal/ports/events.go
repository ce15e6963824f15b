package ports

import (
	"context"

	"github.com/eleven-am/gantry/internal/domain"
)

type EventManager interface {
	Start(ctx context.Context) error
	Stop() error

	PublishRunStarted(event *domain.RunStartedEvent)
	PublishRunCompleted(event *domain.RunCompletedEvent)
	PublishStageStarted(event *domain.StageStartedEvent)
	PublishStageCompleted(event *domain.StageCompletedEvent)
	PublishApprovalRequested(event *domain.ApprovalRequestedEvent)
	PublishApprovalResolved(event *domain.ApprovalResolvedEvent)
	PublishArtifactRecorded(event *domain.ArtifactRecordedEvent)

	OnRunStarted(handler func(event *domain.RunStartedEvent)) error
	OnRunCompleted(handler func(event *domain.RunCompletedEvent)) error
	OnStageStarted(handler func(event *domain.StageStartedEvent)) error
	OnStageCompleted(handler func(event *domain.StageCompletedEvent)) error
	OnApprovalRequested(handler func(event *domain.ApprovalRequestedEvent)) error
	OnApprovalResolved(handler func(event *domain.ApprovalResolvedEvent)) error
	OnArtifactRecorded(handler func(event *domain.ArtifactRecordedEvent)) error

	// SubscribeToBuild streams every event of one build until cleanup is called.
	SubscribeToBuild(buildID string) (<-chan interface{}, func(), error)
}
