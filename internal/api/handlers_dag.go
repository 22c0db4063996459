package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/surfacehq/surface/internal/dag"
	"github.com/surfacehq/surface/internal/scan"
	"github.com/surfacehq/surface/internal/store"
)

type templateRequest struct {
	Name    string         `json:"name"`
	Nodes   store.NodeList `json:"nodes"`
	Enabled *bool          `json:"enabled"`
}

// handleTemplateCreate validates the graph up front: unknown task types,
// dangling dependencies, and cycles are all rejected with 400.
func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	if err := dag.ValidateTemplate(req.Nodes, scan.TaskTypes); err != nil {
		badRequest(w, err.Error())
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	tmpl, err := s.store.CreateDAGTemplate(r.Context(), &store.DAGTemplate{
		ProjectID: mux.Vars(r)["project_id"],
		Name:      req.Name,
		Nodes:     req.Nodes,
		Enabled:   enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListDAGTemplates(r.Context(), mux.Vars(r)["project_id"])
	respondList(w, templates, err)
}

func (s *Server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.getProjectTemplate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleTemplateUpdate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getProjectTemplate(r); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name    *string        `json:"name"`
		Nodes   store.NodeList `json:"nodes"`
		Enabled *bool          `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Nodes != nil {
		if err := dag.ValidateTemplate(req.Nodes, scan.TaskTypes); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	tmpl, err := s.store.UpdateDAGTemplate(r.Context(), mux.Vars(r)["template_id"],
		req.Name, req.Nodes, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getProjectTemplate(r); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteDAGTemplate(r.Context(), mux.Vars(r)["template_id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getProjectTemplate loads a template visible to the project: its own or a
// global one.
func (s *Server) getProjectTemplate(r *http.Request) (*store.DAGTemplate, error) {
	vars := mux.Vars(r)
	tmpl, err := s.store.GetDAGTemplate(r.Context(), vars["template_id"])
	if err != nil {
		return nil, err
	}
	if tmpl.ProjectID != "" && tmpl.ProjectID != vars["project_id"] {
		return nil, store.ErrNotFound
	}
	return tmpl, nil
}

// --- Executions ---

func (s *Server) handleExecutionCreate(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]
	var req struct {
		DAGTemplateID string        `json:"dag_template_id"`
		InputConfig   store.JSONMap `json:"input_config"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DAGTemplateID == "" {
		badRequest(w, "dag_template_id is required")
		return
	}
	tmpl, err := s.store.GetDAGTemplate(r.Context(), req.DAGTemplateID)
	if err != nil {
		writeError(w, err)
		return
	}
	if tmpl.ProjectID != "" && tmpl.ProjectID != projectID {
		writeError(w, store.ErrNotFound)
		return
	}
	if !tmpl.Enabled {
		badRequest(w, "template is disabled")
		return
	}
	if err := dag.ValidateTemplate(tmpl.Nodes, nil); err != nil {
		badRequest(w, err.Error())
		return
	}
	exec, err := s.store.CreateDAGExecution(r.Context(), &store.DAGExecution{
		ProjectID:     projectID,
		DAGTemplateID: tmpl.ID,
		TriggerType:   "manual",
		InputConfig:   req.InputConfig,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

func (s *Server) handleExecutionList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	execs, err := s.store.ListDAGExecutions(r.Context(), mux.Vars(r)["project_id"], limit, offset)
	respondList(w, execs, err)
}

func (s *Server) handleExecutionGet(w http.ResponseWriter, r *http.Request) {
	exec, err := s.store.GetDAGExecution(r.Context(), mux.Vars(r)["execution_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionStart(w http.ResponseWriter, r *http.Request) {
	exec, err := s.executor.Start(r.Context(), mux.Vars(r)["execution_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionCancel(w http.ResponseWriter, r *http.Request) {
	exec, err := s.executor.Cancel(r.Context(), mux.Vars(r)["execution_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
