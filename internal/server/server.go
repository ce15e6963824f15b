package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/eleven-am/gantry/internal/core"
	"github.com/eleven-am/gantry/internal/definition"
	"github.com/eleven-am/gantry/internal/domain"
)

// Service is the part of the manager the HTTP API drives.
type Service interface {
	Trigger(ctx context.Context, req core.TriggerRequest) (string, error)
	Status(ctx context.Context, buildID string) (*domain.RunRecord, error)
	List(ctx context.Context, opts domain.ListOptions) ([]domain.RunSummary, error)
	Cancel(buildID string) error
	Approve(buildID, stageID, approverID string) (domain.ApprovalRequest, error)
	Deny(buildID, stageID, approverID, reason string) (domain.ApprovalRequest, error)
	PendingApprovals() []domain.ApprovalRequest
	Metrics() domain.ExecutionMetrics
	Catalog() *definition.Catalog
	Subscribe(buildID string) (<-chan interface{}, func(), error)
}

type Server struct {
	Router    *chi.Mux
	config    domain.ServerConfig
	service   Service
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
	limiter   *TriggerLimiter
	http      *http.Server
}

func New(config domain.ServerConfig, service Service, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		Router:    chi.NewRouter(),
		config:    config,
		service:   service,
		gatherer:  gatherer,
		logger:    logger.With("component", "http-server"),
		startTime: time.Now(),
	}
	if config.TriggerRate > 0 {
		s.limiter = NewTriggerLimiter(config.TriggerRate, config.TriggerBurst, logger)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.Router
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "gantry")
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.config.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.config.RequestTimeout))
			}
			r.Get("/pipelines", s.handleListPipelines)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/approvals", s.handlePendingApprovals)

			if s.limiter != nil {
				r.With(s.limiter.Middleware).Post("/runs", s.handleTrigger)
			} else {
				r.Post("/runs", s.handleTrigger)
			}
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{buildID}", s.handleGetRun)
			r.Post("/runs/{buildID}/cancel", s.handleCancel)
			r.Post("/runs/{buildID}/approvals/{stageID}/approve", s.handleApprove)
			r.Post("/runs/{buildID}/approvals/{stageID}/deny", s.handleDeny)
		})

		// Streams outlive the request timeout.
		r.Get("/runs/{buildID}/events", s.handleEvents)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down within the
// configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.config.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down http server")
	return s.http.Shutdown(shutdownCtx)
}
