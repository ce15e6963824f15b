package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/eleven-am/gantry/internal/adapters/events"
	"github.com/eleven-am/gantry/internal/domain"
)

type streamedEvent struct {
	Type  string      `json:"type"`
	Event interface{} `json:"event"`
}

func eventType(event interface{}) string {
	switch event.(type) {
	case *domain.RunStartedEvent:
		return events.EventRunStarted
	case *domain.RunCompletedEvent:
		return events.EventRunCompleted
	case *domain.StageStartedEvent:
		return events.EventStageStarted
	case *domain.StageCompletedEvent:
		return events.EventStageCompleted
	case *domain.ApprovalRequestedEvent:
		return events.EventApprovalRequested
	case *domain.ApprovalResolvedEvent:
		return events.EventApprovalResolved
	case *domain.ArtifactRecordedEvent:
		return events.EventArtifactRecorded
	default:
		return "unknown"
	}
}

// handleEvents streams a running build's events as newline-delimited JSON
// until the build finishes or the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	ch, cleanup, err := s.service.Subscribe(buildID)
	if err != nil {
		s.writeError(w, err, buildID)
		return
	}
	defer cleanup()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(streamedEvent{Type: eventType(event), Event: event}); err != nil {
				s.logger.Debug("event stream closed", "build_id", buildID, "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
