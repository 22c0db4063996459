package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/surfacehq/surface/internal/events"
	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/store"
)

type projectRequest struct {
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	RateLimitConfig store.JSONMap `json:"rate_limit_config"`
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	project, err := s.store.CreateProject(r.Context(), req.Name, req.Description, req.RateLimitConfig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleProjectGet(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), mux.Vars(r)["project_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleProjectUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            *string       `json:"name"`
		Description     *string       `json:"description"`
		RateLimitConfig store.JSONMap `json:"rate_limit_config"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	project, err := s.store.UpdateProject(r.Context(), mux.Vars(r)["project_id"],
		req.Name, req.Description, req.RateLimitConfig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.Context(), mux.Vars(r)["project_id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAssetImport bulk-upserts raw assets, fans them out into the typed
// tables, and emits a single asset_created event describing the batch.
func (s *Server) handleAssetImport(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]
	var req struct {
		Assets []store.ImportItem `json:"assets"`
		Source string             `json:"source"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Assets) == 0 {
		badRequest(w, "assets is required")
		return
	}
	source := req.Source
	if source == "" {
		source = "import"
	}
	res, err := s.store.BulkImportAssets(r.Context(), projectID, source, req.Assets)
	if err != nil {
		writeError(w, err)
		return
	}

	if len(res.NewAssets) > 0 {
		s.emitEvent(r.Context(), events.Event{
			ProjectID: projectID,
			Type:      events.TypeAssetCreated,
			Data:      importEventData(res.NewAssets, source),
		})
	}
	writeJSON(w, http.StatusOK, res)
}

// importEventData summarizes a batch of newly inserted assets for the
// asset_created event: the first domain plus the full domain/ip/url lists.
func importEventData(items []store.ImportItem, source string) store.JSONMap {
	var domains, ips, urls []string
	for _, item := range items {
		switch item.AssetType {
		case store.ImportSubdomain:
			domains = append(domains, item.Value)
		case store.ImportIP:
			ips = append(ips, item.Value)
		case store.ImportURL:
			urls = append(urls, item.Value)
		}
	}
	data := store.JSONMap{
		"domains": domains,
		"ips":     ips,
		"source":  source,
	}
	if len(domains) > 0 {
		data["domain"] = domains[0]
		data["target"] = domains[0]
		data["asset_type"] = "domain"
	} else if len(ips) > 0 {
		data["target"] = ips[0]
		data["asset_type"] = "ip"
	}
	if len(urls) > 0 {
		data["urls"] = urls
	}
	return data
}

// emitEvent publishes to the bus for live subscribers and enqueues trigger
// processing for the worker pool.
func (s *Server) emitEvent(ctx context.Context, ev events.Event) {
	if err := s.bus.Publish(ctx, ev); err != nil {
		logAPI.Printf("event %s publish failed: %v", ev.Type, err)
	}
	if _, err := queue.Enqueue(ctx, s.broker, queue.TypeProcessEvent, 5, ev); err != nil {
		logAPI.Printf("event %s dispatch failed: %v", ev.Type, err)
	}
}

// --- Asset listings ---

func (s *Server) handleListSubdomains(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	rows, err := s.store.ListSubdomains(r.Context(), mux.Vars(r)["project_id"], limit, offset)
	respondList(w, rows, err)
}

func (s *Server) handleListIPs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	rows, err := s.store.ListIPAddresses(r.Context(), mux.Vars(r)["project_id"], limit, offset)
	respondList(w, rows, err)
}

func (s *Server) handleListPorts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	rows, err := s.store.ListPorts(r.Context(), mux.Vars(r)["project_id"], r.URL.Query().Get("ip_id"), limit, offset)
	respondList(w, rows, err)
}

func (s *Server) handleListWebAssets(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	rows, err := s.store.ListWebAssets(r.Context(), mux.Vars(r)["project_id"], limit, offset)
	respondList(w, rows, err)
}

func (s *Server) handleListJSAssets(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	rows, err := s.store.ListJSAssets(r.Context(), mux.Vars(r)["project_id"], limit, offset)
	respondList(w, rows, err)
}

func (s *Server) handleListAPIEndpoints(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	rows, err := s.store.ListAPIEndpoints(r.Context(), mux.Vars(r)["project_id"], limit, offset)
	respondList(w, rows, err)
}

func (s *Server) handleListVulnerabilities(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	rows, err := s.store.ListVulnerabilities(r.Context(), mux.Vars(r)["project_id"],
		r.URL.Query().Get("severity"), limit, offset)
	respondList(w, rows, err)
}

func (s *Server) handleListAPIRisks(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	rows, err := s.store.ListAPIRiskFindings(r.Context(), mux.Vars(r)["project_id"], limit, offset)
	respondList(w, rows, err)
}

// respondList writes a listing result, normalizing nil slices to [].
func respondList[T any](w http.ResponseWriter, rows []T, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []T{}
	}
	writeJSON(w, http.StatusOK, rows)
}
