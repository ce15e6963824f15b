package server

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/eleven-am/gantry/internal/core"
	"github.com/eleven-am/gantry/internal/domain"
)

type errorResponse struct {
	Error   string `json:"error"`
	BuildID string `json:"build_id,omitempty"`
}

type triggerResponse struct {
	BuildID string `json:"build_id"`
}

type decisionRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

type pipelineResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source,omitempty"`
	Parameters  []string `json:"parameters,omitempty"`
	Stages      int      `json:"stages"`
}

type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Uptime       string    `json:"uptime"`
	GoVersion    string    `json:"go_version"`
	NumGoroutine int       `json:"num_goroutine"`
	Pending      int       `json:"pending_approvals"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		Timestamp:    time.Now(),
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Pending:      len(s.service.PendingApprovals()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Metrics())
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending := s.service.PendingApprovals()
	if pending == nil {
		pending = []domain.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	defs := s.service.Catalog().List()
	out := make([]pipelineResponse, 0, len(defs))
	for _, def := range defs {
		item := pipelineResponse{
			Name:        def.Name,
			Description: def.Description,
			Source:      def.Source,
			Stages:      len(def.Stages),
		}
		for _, p := range def.Parameters {
			item.Parameters = append(item.Parameters, p.Name)
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req core.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Pipeline == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "pipeline is required"})
		return
	}

	buildID, err := s.service.Trigger(r.Context(), req)
	if err != nil {
		s.writeError(w, err, buildID)
		return
	}
	w.Header().Set("Location", "/api/v1/runs/"+buildID)
	writeJSON(w, http.StatusAccepted, triggerResponse{BuildID: buildID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := domain.ListOptions{Pipeline: r.URL.Query().Get("pipeline")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		opts.Limit = limit
	}

	runs, err := s.service.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	if runs == nil {
		runs = []domain.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.Status(r.Context(), chi.URLParam(r, "buildID"))
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	if err := s.service.Cancel(buildID); err != nil {
		s.writeError(w, err, buildID)
		return
	}
	writeJSON(w, http.StatusAccepted, triggerResponse{BuildID: buildID})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, func(buildID, stageID string, d decisionRequest) (domain.ApprovalRequest, error) {
		return s.service.Approve(buildID, stageID, d.Approver)
	})
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, func(buildID, stageID string, d decisionRequest) (domain.ApprovalRequest, error) {
		return s.service.Deny(buildID, stageID, d.Approver, d.Reason)
	})
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, fn func(buildID, stageID string, d decisionRequest) (domain.ApprovalRequest, error)) {
	var d decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if d.Approver == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "approver is required"})
		return
	}

	buildID := chi.URLParam(r, "buildID")
	req, err := fn(buildID, chi.URLParam(r, "stageID"), d)
	if err != nil {
		s.writeError(w, err, buildID)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) writeError(w http.ResponseWriter, err error, buildID string) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsAlreadyResolved(err):
		status = http.StatusConflict
	case domain.IsPreflight(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotStarted):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "build_id", buildID, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), BuildID: buildID})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
