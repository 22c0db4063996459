package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/surfacehq/surface/internal/scan"
	"github.com/surfacehq/surface/internal/store"
)

func (s *Server) handleScanCreate(w http.ResponseWriter, r *http.Request) {
	var req scan.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := s.scans.Create(r.Context(), mux.Vars(r)["project_id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleScanList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	tasks, err := s.store.ListScanTasks(r.Context(), mux.Vars(r)["project_id"],
		r.URL.Query().Get("status"), limit, offset)
	respondList(w, tasks, err)
}

func (s *Server) handleScanGet(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetScanTask(r.Context(), mux.Vars(r)["task_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleScanUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config   store.JSONMap `json:"config"`
		Priority *int          `json:"priority"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := s.scans.Update(r.Context(), mux.Vars(r)["task_id"], req.Config, req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	s.scanVerb(w, r, s.scans.Start)
}

func (s *Server) handleScanPause(w http.ResponseWriter, r *http.Request) {
	s.scanVerb(w, r, s.scans.Pause)
}

func (s *Server) handleScanResume(w http.ResponseWriter, r *http.Request) {
	s.scanVerb(w, r, s.scans.Resume)
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	s.scanVerb(w, r, s.scans.Cancel)
}

func (s *Server) scanVerb(w http.ResponseWriter, r *http.Request,
	verb func(ctx context.Context, taskID string) (*store.ScanTask, error)) {
	task, err := verb(r.Context(), mux.Vars(r)["task_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- Scan policies ---

type scanPolicyRequest struct {
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	ScanConfig    store.JSONMap `json:"scan_config"`
	DAGTemplateID string        `json:"dag_template_id"`
	IsDefault     bool          `json:"is_default"`
	Enabled       *bool         `json:"enabled"`
}

func (s *Server) handlePolicyCreate(w http.ResponseWriter, r *http.Request) {
	var req scanPolicyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	policy, err := s.store.CreateScanPolicy(r.Context(), &store.ScanPolicy{
		ProjectID:     mux.Vars(r)["project_id"],
		Name:          req.Name,
		Description:   req.Description,
		ScanConfig:    req.ScanConfig,
		DAGTemplateID: req.DAGTemplateID,
		IsDefault:     req.IsDefault,
		Enabled:       enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

func (s *Server) handlePolicyList(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListScanPolicies(r.Context(), mux.Vars(r)["project_id"])
	respondList(w, policies, err)
}

func (s *Server) handlePolicyDefault(w http.ResponseWriter, r *http.Request) {
	policy, err := s.store.DefaultScanPolicy(r.Context(), mux.Vars(r)["project_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	policy, err := s.getProjectPolicy(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getProjectPolicy(r); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name          *string       `json:"name"`
		Description   *string       `json:"description"`
		ScanConfig    store.JSONMap `json:"scan_config"`
		DAGTemplateID *string       `json:"dag_template_id"`
		IsDefault     *bool         `json:"is_default"`
		Enabled       *bool         `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	policy, err := s.store.UpdateScanPolicy(r.Context(), mux.Vars(r)["policy_id"], store.ScanPolicyUpdate{
		Name:          req.Name,
		Description:   req.Description,
		ScanConfig:    req.ScanConfig,
		DAGTemplateID: req.DAGTemplateID,
		IsDefault:     req.IsDefault,
		Enabled:       req.Enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handlePolicyDelete(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getProjectPolicy(r); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteScanPolicy(r.Context(), mux.Vars(r)["policy_id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getProjectPolicy loads the policy and hides policies from other projects.
func (s *Server) getProjectPolicy(r *http.Request) (*store.ScanPolicy, error) {
	vars := mux.Vars(r)
	policy, err := s.store.GetScanPolicy(r.Context(), vars["policy_id"])
	if err != nil {
		return nil, err
	}
	if policy.ProjectID != vars["project_id"] {
		return nil, store.ErrNotFound
	}
	return policy, nil
}
