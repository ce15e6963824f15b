package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/eleven-am/gantry/internal/domain"
)

// LogTransport writes notifications to the structured log.
type LogTransport struct {
	logger *slog.Logger
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger.With("component", "notification-log")}
}

func (t *LogTransport) Send(_ context.Context, channel domain.ChannelConfig, msg domain.RenderedMessage, event domain.NotificationEvent) error {
	t.logger.Info(msg.Subject,
		"channel", channel.Name,
		"build_id", event.Summary.BuildID,
		"pipeline", event.Summary.Pipeline,
		"outcome", event.RunOutcome,
		"failing_stage_id", event.Summary.FailingStageID,
		"body", msg.Body)
	return nil
}

// WebhookPayload is the JSON body posted to webhook channels.
type WebhookPayload struct {
	Channel string                     `json:"channel"`
	Subject string                     `json:"subject"`
	Text    string                     `json:"text"`
	Outcome domain.RunOutcome          `json:"outcome"`
	Summary domain.NotificationSummary `json:"summary"`
	FiredAt time.Time                  `json:"fired_at"`
}

// WebhookTransport posts a chat-style JSON message to the channel URL.
type WebhookTransport struct {
	client  *http.Client
	headers map[string]string
}

func NewWebhookTransport(client *http.Client, headers map[string]string) *WebhookTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookTransport{client: client, headers: headers}
}

func (t *WebhookTransport) Send(ctx context.Context, channel domain.ChannelConfig, msg domain.RenderedMessage, event domain.NotificationEvent) error {
	body, err := json.Marshal(WebhookPayload{
		Channel: channel.Name,
		Subject: msg.Subject,
		Text:    msg.Body,
		Outcome: event.RunOutcome,
		Summary: event.Summary,
		FiredAt: event.FiredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
