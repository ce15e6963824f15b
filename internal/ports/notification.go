package ports

import (
	"context"

	"github.com/eleven-am/gantry/internal/domain"
)

type NotificationTransport interface {
	Send(ctx context.Context, channel domain.ChannelConfig, msg domain.RenderedMessage, event domain.NotificationEvent) error
}

// NotificationDispatcher reports a finished build once. Extra channels are
// delivered alongside the configured ones.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, event domain.NotificationEvent, extra ...domain.ChannelConfig) (domain.NotificationEvent, error)
}
