package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/surfacehq/surface/internal/events"
	"github.com/surfacehq/surface/internal/store"
)

type triggerRequest struct {
	Name          string        `json:"name"`
	EventType     string        `json:"event_type"`
	FilterConfig  store.JSONMap `json:"filter_config"`
	DAGTemplateID string        `json:"dag_template_id"`
	DAGConfig     store.JSONMap `json:"dag_config"`
	Enabled       *bool         `json:"enabled"`
}

func (s *Server) handleTriggerCreate(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.EventType == "" || req.DAGTemplateID == "" {
		badRequest(w, "name, event_type, and dag_template_id are required")
		return
	}
	if _, err := s.store.GetDAGTemplate(r.Context(), req.DAGTemplateID); err != nil {
		writeError(w, err)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	trig, err := s.store.CreateEventTrigger(r.Context(), &store.EventTrigger{
		ProjectID:     mux.Vars(r)["project_id"],
		Name:          req.Name,
		EventType:     req.EventType,
		FilterConfig:  req.FilterConfig,
		DAGTemplateID: req.DAGTemplateID,
		DAGConfig:     req.DAGConfig,
		Enabled:       enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trig)
}

func (s *Server) handleTriggerList(w http.ResponseWriter, r *http.Request) {
	triggers, err := s.store.ListEventTriggers(r.Context(), mux.Vars(r)["project_id"])
	respondList(w, triggers, err)
}

func (s *Server) handleTriggerGet(w http.ResponseWriter, r *http.Request) {
	trig, err := s.getProjectTrigger(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trig)
}

func (s *Server) handleTriggerUpdate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getProjectTrigger(r); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name          *string       `json:"name"`
		EventType     *string       `json:"event_type"`
		FilterConfig  store.JSONMap `json:"filter_config"`
		DAGTemplateID *string       `json:"dag_template_id"`
		DAGConfig     store.JSONMap `json:"dag_config"`
		Enabled       *bool         `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	trig, err := s.store.UpdateEventTrigger(r.Context(), mux.Vars(r)["trigger_id"], store.EventTriggerUpdate{
		Name:          req.Name,
		EventType:     req.EventType,
		FilterConfig:  req.FilterConfig,
		DAGTemplateID: req.DAGTemplateID,
		DAGConfig:     req.DAGConfig,
		Enabled:       req.Enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trig)
}

func (s *Server) handleTriggerDelete(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getProjectTrigger(r); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteEventTrigger(r.Context(), mux.Vars(r)["trigger_id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getProjectTrigger(r *http.Request) (*store.EventTrigger, error) {
	vars := mux.Vars(r)
	trig, err := s.store.GetEventTrigger(r.Context(), vars["trigger_id"])
	if err != nil {
		return nil, err
	}
	if trig.ProjectID != vars["project_id"] {
		return nil, store.ErrNotFound
	}
	return trig, nil
}

// handleEventEmit injects a domain event: published to the bus for live
// subscribers and queued for trigger processing. 202, the router runs async.
func (s *Server) handleEventEmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string        `json:"type"`
		Data store.JSONMap `json:"data"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		badRequest(w, "type is required")
		return
	}
	ev := events.Event{
		ProjectID: mux.Vars(r)["project_id"],
		Type:      req.Type,
		Data:      req.Data,
	}
	s.emitEvent(r.Context(), ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
