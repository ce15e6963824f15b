package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/gantry/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(ctx context.Context, channel domain.ChannelConfig, msg domain.RenderedMessage, event domain.NotificationEvent) error {
	return m.Called(channel.Name, msg, event.RunOutcome).Error(0)
}

func failureEvent() domain.NotificationEvent {
	return domain.NotificationEvent{
		RunOutcome: domain.RunOutcomeFailure,
		Summary: domain.NotificationSummary{
			BuildID:        "b-7",
			Pipeline:       "api",
			Duration:       90 * time.Second,
			CommitRef:      "deadbeef",
			FailingStageID: "test",
			Detail:         "2 tests failed",
		},
	}
}

func TestDispatcher_DeliversToAcceptingChannels(t *testing.T) {
	config := domain.NotificationConfig{Channels: []domain.ChannelConfig{
		{Name: "ops", Kind: domain.ChannelLog},
		{Name: "failures", Kind: domain.ChannelWebhook, URL: "http://x", Outcomes: []domain.RunOutcome{domain.RunOutcomeFailure}},
		{Name: "releases", Kind: domain.ChannelWebhook, URL: "http://y", Outcomes: []domain.RunOutcome{domain.RunOutcomeSuccess}},
	}}

	transport := &MockTransport{}
	transport.On("Send", "ops", mock.Anything, domain.RunOutcomeFailure).Return(nil).Once()
	transport.On("Send", "failures", mock.MatchedBy(func(msg domain.RenderedMessage) bool {
		return msg.Subject == "[api] build b-7 FAILED"
	}), domain.RunOutcomeFailure).Return(nil).Once()

	d := NewDispatcher(config, nil, nil, testLogger())
	d.RegisterTransport(domain.ChannelLog, transport)
	d.RegisterTransport(domain.ChannelWebhook, transport)

	event, err := d.Dispatch(context.Background(), failureEvent())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ops", "failures"}, event.Channels)
	require.Len(t, event.Deliveries, 2)
	for _, status := range event.Deliveries {
		assert.True(t, status.Delivered)
	}
	assert.False(t, event.FiredAt.IsZero())
	transport.AssertExpectations(t)
}

func TestDispatcher_FiresOncePerBuild(t *testing.T) {
	d := NewDispatcher(domain.DefaultNotificationConfig(), nil, nil, testLogger())
	d.RegisterTransport(domain.ChannelLog, NewLogTransport(testLogger()))

	_, err := d.Dispatch(context.Background(), failureEvent())
	require.NoError(t, err)
	assert.True(t, d.Fired("b-7"))

	_, err = d.Dispatch(context.Background(), failureEvent())
	assert.ErrorIs(t, err, domain.ErrAlreadyDispatched)
}

func TestDispatcher_FailureIsIsolated(t *testing.T) {
	config := domain.NotificationConfig{Channels: []domain.ChannelConfig{
		{Name: "broken", Kind: domain.ChannelWebhook, URL: "http://x"},
		{Name: "ops", Kind: domain.ChannelLog},
	}}
	broken := &MockTransport{}
	broken.On("Send", "broken", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	healthy := &MockTransport{}
	healthy.On("Send", "ops", mock.Anything, mock.Anything).Return(nil)

	metrics := domain.NewExecutionMetrics()
	d := NewDispatcher(config, nil, metrics, testLogger())
	d.RegisterTransport(domain.ChannelWebhook, broken)
	d.RegisterTransport(domain.ChannelLog, healthy)

	event, err := d.Dispatch(context.Background(), failureEvent())

	var failure *domain.DeliveryFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "broken", failure.Channel)
	assert.Equal(t, domain.RunOutcomeFailure, event.RunOutcome)

	byChannel := map[string]domain.DeliveryStatus{}
	for _, s := range event.Deliveries {
		byChannel[s.Channel] = s
	}
	assert.False(t, byChannel["broken"].Delivered)
	assert.Contains(t, byChannel["broken"].Error, "connection refused")
	assert.True(t, byChannel["ops"].Delivered)

	snap := metrics.GetSnapshot()
	assert.Equal(t, int64(1), snap.NotificationsSent)
	assert.Equal(t, int64(1), snap.NotificationsFailed)
}

func TestDispatcher_ExtraChannelsAndMissingTransport(t *testing.T) {
	d := NewDispatcher(domain.NotificationConfig{}, nil, nil, testLogger())

	event, err := d.Dispatch(context.Background(), failureEvent(),
		domain.ChannelConfig{Name: "team", Kind: domain.ChannelWebhook, URL: "http://x"})

	assert.Error(t, err)
	assert.Equal(t, []string{"team"}, event.Channels)
	require.Len(t, event.Deliveries, 1)
	assert.Contains(t, event.Deliveries[0].Error, "no transport")
}

func TestDispatcher_BoundsRememberedBuilds(t *testing.T) {
	d := NewDispatcher(domain.NotificationConfig{}, nil, nil, testLogger())
	d.maxFired = 2

	for _, id := range []string{"b-1", "b-2", "b-3"} {
		event := failureEvent()
		event.Summary.BuildID = id
		_, err := d.Dispatch(context.Background(), event)
		require.NoError(t, err)
	}

	assert.False(t, d.Fired("b-1"))
	assert.True(t, d.Fired("b-2"))
	assert.True(t, d.Fired("b-3"))
	assert.Len(t, d.fired, 2)
	assert.Len(t, d.firedOrder, 2)
}

func TestDispatcher_RequiresBuildID(t *testing.T) {
	d := NewDispatcher(domain.DefaultNotificationConfig(), nil, nil, testLogger())
	_, err := d.Dispatch(context.Background(), domain.NotificationEvent{RunOutcome: domain.RunOutcomeSuccess})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRenderTable(t *testing.T) {
	table := DefaultRenderTable()
	for _, outcome := range []domain.RunOutcome{
		domain.RunOutcomeSuccess, domain.RunOutcomeFailure, domain.RunOutcomeUnstable, domain.RunOutcomeAborted,
	} {
		t.Run(string(outcome), func(t *testing.T) {
			msg, err := table.Render(outcome, failureEvent().Summary)
			require.NoError(t, err)
			assert.Contains(t, msg.Subject, "b-7")
			assert.Contains(t, msg.Body, "deadbeef")
			assert.Contains(t, msg.Body, "1m30s")
		})
	}

	msg, err := table.Render(domain.RunOutcomeFailure, failureEvent().Summary)
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Failing stage: test")

	_, err = table.Render("exploded", failureEvent().Summary)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWebhookTransport(t *testing.T) {
	var received WebhookPayload
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	transport := NewWebhookTransport(server.Client(), map[string]string{"X-Token": "secret"})
	channel := domain.ChannelConfig{Name: "chat", Kind: domain.ChannelWebhook, URL: server.URL}
	msg := domain.RenderedMessage{Subject: "s", Body: "b"}

	require.NoError(t, transport.Send(context.Background(), channel, msg, failureEvent()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "chat", received.Channel)
	assert.Equal(t, "b", received.Text)
	assert.Equal(t, "test", received.Summary.FailingStageID)
}

func TestWebhookTransport_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	transport := NewWebhookTransport(server.Client(), nil)
	err := transport.Send(context.Background(),
		domain.ChannelConfig{Name: "chat", URL: server.URL},
		domain.RenderedMessage{}, failureEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestEventFromRecord(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	end := start.Add(30 * time.Second)
	record := &domain.RunRecord{
		BuildID:  "b-3",
		Pipeline: "web",
		Outcome:  domain.RunOutcomeUnstable,
		Root:     "pipeline",
		Context:  domain.RunContextSnapshot{CommitRef: "abc", StartTime: start},
		Nodes: []domain.StageNode{
			{ID: "pipeline", Kind: domain.StageKindSequential, Children: []string{"lint"}},
			{ID: "lint", Kind: domain.StageKindLeaf},
		},
		Stages: []domain.StageResult{
			{StageID: "pipeline", State: domain.StageStateUnstable},
			{StageID: "lint", State: domain.StageStateUnstable},
		},
		CompletedAt: &end,
	}

	event := EventFromRecord(record)
	assert.Equal(t, domain.RunOutcomeUnstable, event.RunOutcome)
	assert.Equal(t, "lint", event.Summary.FailingStageID)
	assert.Equal(t, 30*time.Second, event.Summary.Duration)
	assert.Equal(t, "abc", event.Summary.CommitRef)
}
