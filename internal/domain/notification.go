package domain

import (
	"time"
)

type ChannelKind string

const (
	ChannelWebhook ChannelKind = "webhook"
	ChannelLog     ChannelKind = "log"
)

type ChannelConfig struct {
	Name     string       `json:"name" yaml:"name" koanf:"name"`
	Kind     ChannelKind  `json:"kind" yaml:"kind" koanf:"kind"`
	URL      string       `json:"url,omitempty" yaml:"url,omitempty" koanf:"url"`
	Outcomes []RunOutcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty" koanf:"outcomes"`
}

// Accepts reports whether the channel wants events for the outcome. An empty
// filter accepts all outcomes.
func (c ChannelConfig) Accepts(outcome RunOutcome) bool {
	if len(c.Outcomes) == 0 {
		return true
	}
	for _, o := range c.Outcomes {
		if o == outcome {
			return true
		}
	}
	return false
}

type NotificationSummary struct {
	BuildID        string        `json:"build_id"`
	Pipeline       string        `json:"pipeline"`
	Duration       time.Duration `json:"duration"`
	CommitRef      string        `json:"commit_ref,omitempty"`
	FailingStageID string        `json:"failing_stage_id,omitempty"`
	Detail         string        `json:"detail,omitempty"`
}

type RenderedMessage struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type DeliveryStatus struct {
	Channel     string    `json:"channel"`
	Delivered   bool      `json:"delivered"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

type NotificationEvent struct {
	RunOutcome RunOutcome          `json:"run_outcome"`
	Summary    NotificationSummary `json:"summary"`
	Channels   []string            `json:"channels"`
	Deliveries []DeliveryStatus    `json:"deliveries,omitempty"`
	FiredAt    time.Time           `json:"fired_at"`
}
