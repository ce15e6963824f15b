package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

var ErrCircuitOpen = errors.New("channel circuit is open")

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitHalfOpen
	circuitOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitHalfOpen:
		return "half-open"
	case circuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

type circuit struct {
	state       circuitState
	failures    int
	nextAttempt time.Time
	probing     bool
}

// BreakerTransport stops sending to a channel after repeated delivery
// failures and lets one trial send through once the cooldown has passed. Circuits
// are tracked per channel name, so one dead webhook does not affect others
// of the same kind.
type BreakerTransport struct {
	next   ports.NotificationTransport
	config domain.BreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

func NewBreakerTransport(next ports.NotificationTransport, config domain.BreakerConfig, logger *slog.Logger) *BreakerTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = time.Minute
	}
	return &BreakerTransport{
		next:     next,
		config:   config,
		logger:   logger.With("component", "notification-breaker"),
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

func (b *BreakerTransport) Send(ctx context.Context, channel domain.ChannelConfig, msg domain.RenderedMessage, event domain.NotificationEvent) error {
	if !b.allow(channel.Name) {
		return ErrCircuitOpen
	}
	err := b.next.Send(ctx, channel, msg, event)
	b.record(channel.Name, err)
	return err
}

// State returns the circuit state of a channel as a string.
func (b *BreakerTransport) State(channel string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[channel]
	if !ok {
		return circuitClosed.String()
	}
	return c.state.String()
}

func (b *BreakerTransport) allow(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(channel)
	switch c.state {
	case circuitOpen:
		if b.now().Before(c.nextAttempt) {
			return false
		}
		b.setState(channel, c, circuitHalfOpen)
		c.probing = true
		return true
	case circuitHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return true
	}
}

func (b *BreakerTransport) record(channel string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(channel)
	c.probing = false
	if err == nil {
		c.failures = 0
		b.setState(channel, c, circuitClosed)
		return
	}

	c.failures++
	if c.state == circuitHalfOpen || c.failures >= b.config.FailureThreshold {
		c.nextAttempt = b.now().Add(b.config.Cooldown)
		b.setState(channel, c, circuitOpen)
	}
}

func (b *BreakerTransport) circuit(channel string) *circuit {
	c, ok := b.circuits[channel]
	if !ok {
		c = &circuit{}
		b.circuits[channel] = c
	}
	return c
}

func (b *BreakerTransport) setState(channel string, c *circuit, to circuitState) {
	if c.state == to {
		return
	}
	b.logger.Info("channel circuit state change",
		"channel", channel,
		"from", c.state.String(),
		"to", to.String(),
		"failures", c.failures)
	c.state = to
}
