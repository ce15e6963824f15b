package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// Dispatcher sends the final report of a build to every channel that accepts
// its outcome. It fires at most once per build.
type Dispatcher struct {
	config     domain.NotificationConfig
	transports map[domain.ChannelKind]ports.NotificationTransport
	templates  RenderTable
	metrics    *domain.ExecutionMetrics
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	fired      map[string]bool
	firedOrder []string
	maxFired   int
}

// defaultMaxFired bounds how many builds the dispatcher remembers. Older
// builds are already persisted with their notification.
const defaultMaxFired = 4096

func NewDispatcher(config domain.NotificationConfig, templates RenderTable, metrics *domain.ExecutionMetrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if templates == nil {
		templates = DefaultRenderTable()
	}
	if metrics == nil {
		metrics = domain.NewExecutionMetrics()
	}
	return &Dispatcher{
		config:     config,
		transports: make(map[domain.ChannelKind]ports.NotificationTransport),
		templates:  templates,
		metrics:    metrics,
		logger:     logger.With("component", "notification-dispatcher"),
		now:        time.Now,
		fired:      make(map[string]bool),
		maxFired:   defaultMaxFired,
	}
}

func (d *Dispatcher) RegisterTransport(kind domain.ChannelKind, transport ports.NotificationTransport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transports[kind] = transport
}

// Dispatch renders the event once and delivers it to each selected channel
// independently. Delivery failures are recorded on the returned event and
// joined into the error; they never stop other channels.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.NotificationEvent, extra ...domain.ChannelConfig) (domain.NotificationEvent, error) {
	buildID := event.Summary.BuildID
	if buildID == "" {
		return event, fmt.Errorf("notification without build id: %w", domain.ErrInvalidInput)
	}

	d.mu.Lock()
	if d.fired[buildID] {
		d.mu.Unlock()
		return event, domain.ErrAlreadyDispatched
	}
	d.remember(buildID)
	d.mu.Unlock()

	event.FiredAt = d.now()
	channels := d.selectChannels(event.RunOutcome, extra)
	event.Channels = make([]string, 0, len(channels))
	for _, ch := range channels {
		event.Channels = append(event.Channels, ch.Name)
	}

	msg, err := d.templates.Render(event.RunOutcome, event.Summary)
	if err != nil {
		d.logger.Error("failed to render notification", "build_id", buildID, "error", err)
		return event, err
	}

	deliveries := make([]domain.DeliveryStatus, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliveries[i] = d.deliver(ctx, ch, msg, event)
		}()
	}
	wg.Wait()
	event.Deliveries = deliveries

	var errs []error
	for _, status := range deliveries {
		if !status.Delivered {
			errs = append(errs, &domain.DeliveryFailure{Channel: status.Channel, Err: errors.New(status.Error)})
		}
	}

	d.logger.Info("notification dispatched",
		"build_id", buildID,
		"outcome", event.RunOutcome,
		"channels", len(channels),
		"failed", len(errs))
	return event, errors.Join(errs...)
}

// Fired reports whether the build has already been notified.
func (d *Dispatcher) Fired(buildID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired[buildID]
}

func (d *Dispatcher) selectChannels(outcome domain.RunOutcome, extra []domain.ChannelConfig) []domain.ChannelConfig {
	seen := make(map[string]bool)
	var out []domain.ChannelConfig
	for _, ch := range append(append([]domain.ChannelConfig(nil), d.config.Channels...), extra...) {
		if seen[ch.Name] || !ch.Accepts(outcome) {
			continue
		}
		seen[ch.Name] = true
		out = append(out, ch)
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, ch domain.ChannelConfig, msg domain.RenderedMessage, event domain.NotificationEvent) domain.DeliveryStatus {
	status := domain.DeliveryStatus{Channel: ch.Name, AttemptedAt: d.now()}

	d.mu.Lock()
	transport, ok := d.transports[ch.Kind]
	d.mu.Unlock()

	var err error
	if !ok {
		err = fmt.Errorf("no transport for channel kind %q", ch.Kind)
	} else {
		sendCtx := ctx
		if d.config.Timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, d.config.Timeout)
			defer cancel()
		}
		err = transport.Send(sendCtx, ch, msg, event)
	}

	if err != nil {
		failure := &domain.DeliveryFailure{Channel: ch.Name, Err: err}
		d.metrics.IncrementNotificationsFailed()
		d.logger.Warn("notification delivery failed",
			"build_id", event.Summary.BuildID,
			"channel", ch.Name,
			"error", failure)
		status.Error = err.Error()
		return status
	}

	d.metrics.IncrementNotificationsSent()
	status.Delivered = true
	return status
}

// remember marks a build as notified and evicts the oldest entries past the
// bound. Callers hold d.mu.
func (d *Dispatcher) remember(buildID string) {
	d.fired[buildID] = true
	d.firedOrder = append(d.firedOrder, buildID)
	for len(d.firedOrder) > d.maxFired {
		delete(d.fired, d.firedOrder[0])
		d.firedOrder = d.firedOrder[1:]
	}
}
