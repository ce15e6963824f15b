package metrics

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/gantry/internal/adapters/events"
	"github.com/eleven-am/gantry/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollector_RunLifecycle(t *testing.T) {
	c := NewCollector(testLogger())

	c.onRunStarted(&domain.RunStartedEvent{BuildID: "b-1", Pipeline: "api"})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsStarted.WithLabelValues("api")))

	c.onStageCompleted(&domain.StageCompletedEvent{Kind: domain.StageKindLeaf, State: domain.StageStateFailed, Duration: time.Second})
	c.onStageCompleted(&domain.StageCompletedEvent{Kind: domain.StageKindLeaf, State: domain.StageStateSkipped})
	c.onRunCompleted(&domain.RunCompletedEvent{BuildID: "b-1", Pipeline: "api", Outcome: domain.RunOutcomeFailure, Duration: 3 * time.Second})

	assert.Equal(t, 0.0, testutil.ToFloat64(c.RunsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsCompleted.WithLabelValues("api", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StagesCompleted.WithLabelValues("leaf", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StagesCompleted.WithLabelValues("leaf", "skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.StageDuration))
}

func TestCollector_ApprovalsAndArtifacts(t *testing.T) {
	c := NewCollector(testLogger())

	c.onApprovalRequested(&domain.ApprovalRequestedEvent{})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ApprovalsPending))

	c.onApprovalResolved(&domain.ApprovalResolvedEvent{Request: domain.ApprovalRequest{State: domain.ApprovalExpired}})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ApprovalsPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ApprovalsResolved.WithLabelValues("expired")))

	c.onArtifactRecorded(&domain.ArtifactRecordedEvent{Artifact: domain.ArtifactRef{ProducingStageID: "build", Size: 2048}})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ArtifactsRecorded.WithLabelValues("build")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.ArtifactBytes))
}

func TestCollector_AttachToEvents(t *testing.T) {
	manager := events.NewManager(testLogger())
	require.NoError(t, manager.Start(context.Background()))
	defer manager.Stop()

	c := NewCollector(testLogger())
	require.NoError(t, c.Attach(manager))

	manager.PublishRunStarted(&domain.RunStartedEvent{BuildID: "b-2", Pipeline: "web"})

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(c.RunsStarted.WithLabelValues("web")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCollector_RegistryGathers(t *testing.T) {
	c := NewCollector(testLogger())
	c.onRunStarted(&domain.RunStartedEvent{Pipeline: "api"})

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["gantry_runs_started_total"])
	assert.True(t, names["go_goroutines"])
}
