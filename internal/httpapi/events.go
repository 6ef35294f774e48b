package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/donna/internal/events"
	"github.com/antoniostano/donna/internal/pipeline"
)

type detectResponse struct {
	NewEvents []events.Event `json:"newEvents"`
	Count     int            `json:"count"`
}

type eventsResponse struct {
	Events []events.Event `json:"events"`
}

type orchestrateRequest struct {
	Events []events.Event `json:"events"`
}

type taskStatusRequest struct {
	Status string `json:"status"`
}

// handleDetect forces a detector pass outside the regular timer. Fresh events
// flow through the detector's callback into the pipeline, same as a timed
// tick; the response only reports what was new.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	fresh := s.detector.Tick(r.Context())
	respondJSON(w, http.StatusOK, detectResponse{
		NewEvents: fresh,
		Count:     len(fresh),
	})
}

// handleListEvents returns the current upcoming events with their tasks
// attached. Listing re-enters the pipeline, so an event whose specialized
// stage is still owed a run gets it here.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	current, err := s.detector.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "calendar_unavailable", err.Error())
		return
	}
	views := s.pipeline.Orchestrate(r.Context(), current)
	respondJSON(w, http.StatusOK, eventsResponse{Events: views})
}

// handleOrchestrate runs the pipeline over the caller-supplied event list,
// or over a fresh calendar snapshot when the body is empty. The supplied
// path keeps orchestration available while the calendar is unreachable.
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	current := req.Events
	if len(current) == 0 {
		snapshot, err := s.detector.Snapshot(r.Context())
		if err != nil {
			respondError(w, http.StatusBadGateway, "calendar_unavailable", err.Error())
			return
		}
		current = snapshot
	}
	views := s.pipeline.Orchestrate(r.Context(), current)
	respondJSON(w, http.StatusOK, eventsResponse{Events: views})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	eventID := strings.TrimSpace(chi.URLParam(r, "eventID"))
	taskID := strings.TrimSpace(chi.URLParam(r, "taskID"))
	if eventID == "" || taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_path", "event and task ids are required")
		return
	}

	var req taskStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	status := events.Status(strings.TrimSpace(req.Status))
	if !events.ValidStatus(status) {
		respondError(w, http.StatusBadRequest, "invalid_status", "unknown task status")
		return
	}

	task, err := s.pipeline.UpdateTaskStatus(r.Context(), eventID, taskID, status)
	switch {
	case errors.Is(err, pipeline.ErrTaskNotFound):
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	case errors.Is(err, events.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid_transition", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "update_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	eventID := strings.TrimSpace(chi.URLParam(r, "eventID"))
	if eventID == "" {
		respondError(w, http.StatusBadRequest, "invalid_path", "event id is required")
		return
	}
	if err := s.pipeline.ResetEvent(r.Context(), eventID); err != nil {
		respondError(w, http.StatusInternalServerError, "reset_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "reset", "eventId": eventID})
}
