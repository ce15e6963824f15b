package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

// Collector turns pipeline events into Prometheus series on its own registry.
type Collector struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	RunsStarted       *prometheus.CounterVec
	RunsCompleted     *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	RunsActive        prometheus.Gauge
	StagesCompleted   *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	ApprovalsPending  prometheus.Gauge
	ApprovalsResolved *prometheus.CounterVec
	ArtifactsRecorded *prometheus.CounterVec
	ArtifactBytes     prometheus.Counter
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		logger:   logger.With("component", "metrics-collector"),

		RunsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_runs_started_total",
				Help: "Total number of pipeline runs started",
			},
			[]string{"pipeline"},
		),
		RunsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_runs_completed_total",
				Help: "Total number of pipeline runs completed, by outcome",
			},
			[]string{"pipeline", "outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gantry_run_duration_seconds",
				Help:    "Wall-clock duration of pipeline runs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"pipeline"},
		),
		RunsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gantry_runs_active",
			Help: "Number of pipeline runs currently executing",
		}),
		StagesCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_stages_completed_total",
				Help: "Total number of stages reaching a terminal state",
			},
			[]string{"kind", "state"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gantry_stage_duration_seconds",
				Help:    "Duration of executed leaf stages",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),
		ApprovalsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gantry_approvals_pending",
			Help: "Number of approval requests awaiting a decision",
		}),
		ApprovalsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_approvals_resolved_total",
				Help: "Total number of approval requests resolved, by state",
			},
			[]string{"state"},
		),
		ArtifactsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gantry_artifacts_recorded_total",
				Help: "Total number of artifacts recorded",
			},
			[]string{"stage"},
		),
		ArtifactBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "gantry_artifact_bytes_total",
			Help: "Total bytes of recorded artifacts",
		}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Attach subscribes the collector to every event kind it tracks.
func (c *Collector) Attach(events ports.EventManager) error {
	if err := events.OnRunStarted(c.onRunStarted); err != nil {
		return err
	}
	if err := events.OnRunCompleted(c.onRunCompleted); err != nil {
		return err
	}
	if err := events.OnStageCompleted(c.onStageCompleted); err != nil {
		return err
	}
	if err := events.OnApprovalRequested(c.onApprovalRequested); err != nil {
		return err
	}
	if err := events.OnApprovalResolved(c.onApprovalResolved); err != nil {
		return err
	}
	if err := events.OnArtifactRecorded(c.onArtifactRecorded); err != nil {
		return err
	}
	c.logger.Debug("metrics collector attached")
	return nil
}

func (c *Collector) onRunStarted(event *domain.RunStartedEvent) {
	c.RunsStarted.WithLabelValues(event.Pipeline).Inc()
	c.RunsActive.Inc()
}

func (c *Collector) onRunCompleted(event *domain.RunCompletedEvent) {
	c.RunsCompleted.WithLabelValues(event.Pipeline, string(event.Outcome)).Inc()
	c.RunDuration.WithLabelValues(event.Pipeline).Observe(event.Duration.Seconds())
	c.RunsActive.Dec()
}

func (c *Collector) onStageCompleted(event *domain.StageCompletedEvent) {
	c.StagesCompleted.WithLabelValues(string(event.Kind), string(event.State)).Inc()
	if event.Kind == domain.StageKindLeaf && event.Duration > 0 {
		c.StageDuration.WithLabelValues(string(event.State)).Observe(event.Duration.Seconds())
	}
}

func (c *Collector) onApprovalRequested(*domain.ApprovalRequestedEvent) {
	c.ApprovalsPending.Inc()
}

func (c *Collector) onApprovalResolved(event *domain.ApprovalResolvedEvent) {
	c.ApprovalsPending.Dec()
	c.ApprovalsResolved.WithLabelValues(string(event.Request.State)).Inc()
}

func (c *Collector) onArtifactRecorded(event *domain.ArtifactRecordedEvent) {
	c.ArtifactsRecorded.WithLabelValues(event.Artifact.ProducingStageID).Inc()
	c.ArtifactBytes.Add(float64(event.Artifact.Size))
}
