package core

import (
	"github.com/eleven-am/gantry/internal/definition"
	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// Option replaces one of the components NewManager would otherwise build from
// configuration.
type Option func(*Manager)

func WithExecutor(executor ports.Executor) Option {
	return func(m *Manager) { m.executor = executor }
}

func WithRunStore(store ports.RunStore) Option {
	return func(m *Manager) { m.store = store }
}

func WithArtifactStorage(storage ports.ArtifactStorage) Option {
	return func(m *Manager) { m.artifactStorage = storage }
}

// WithApprovalTransport adds a transport next to the log transport.
func WithApprovalTransport(transport ports.ApprovalTransport) Option {
	return func(m *Manager) { m.approvalTransports = append(m.approvalTransports, transport) }
}

func WithNotificationTransport(kind domain.ChannelKind, transport ports.NotificationTransport) Option {
	return func(m *Manager) { m.notificationTransports[kind] = transport }
}

func WithTracing(provider ports.TracingProvider) Option {
	return func(m *Manager) { m.tracing = provider }
}

func WithCatalog(catalog *definition.Catalog) Option {
	return func(m *Manager) { m.catalog = catalog }
}
