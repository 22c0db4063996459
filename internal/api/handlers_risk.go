package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/risk"
	"github.com/surfacehq/surface/internal/store"
)

var factorTypes = map[string]bool{
	"vulnerability": true, "exposure": true, "custom": true,
}

func (s *Server) handleRiskFactorCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string        `json:"name"`
		FactorType      string        `json:"factor_type"`
		Weight          float64       `json:"weight"`
		CalculationRule store.JSONMap `json:"calculation_rule"`
		Enabled         *bool         `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	if !factorTypes[req.FactorType] {
		badRequest(w, "factor_type must be vulnerability, exposure, or custom")
		return
	}
	if req.Weight <= 0 || req.Weight > 1 {
		badRequest(w, "weight must be in (0, 1]")
		return
	}
	factor, err := s.store.CreateRiskFactor(r.Context(), &store.RiskFactor{
		ProjectID:       mux.Vars(r)["project_id"],
		Name:            req.Name,
		FactorType:      req.FactorType,
		Weight:          req.Weight,
		CalculationRule: req.CalculationRule,
		Enabled:         req.Enabled == nil || *req.Enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, factor)
}

func (s *Server) handleRiskFactorList(w http.ResponseWriter, r *http.Request) {
	factors, err := s.store.ListRiskFactors(r.Context(), mux.Vars(r)["project_id"])
	respondList(w, factors, err)
}

func (s *Server) handleRiskFactorDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRiskFactor(r.Context(), mux.Vars(r)["factor_id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRiskScoreList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	scores, err := s.store.ListRiskScores(r.Context(), mux.Vars(r)["project_id"], limit, offset)
	respondList(w, scores, err)
}

func (s *Server) handleRiskScoreGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	score, err := s.store.GetRiskScore(r.Context(), vars["project_id"], vars["asset_type"], vars["asset_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// handleRiskCalculate queues recalculation for one asset. 202, the worker
// computes and stores the score.
func (s *Server) handleRiskCalculate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetType string `json:"asset_type"`
		AssetID   string `json:"asset_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AssetType == "" || req.AssetID == "" {
		badRequest(w, "asset_type and asset_id are required")
		return
	}
	payload := risk.CalculatePayload{
		ProjectID: mux.Vars(r)["project_id"],
		AssetType: req.AssetType,
		AssetID:   req.AssetID,
	}
	if _, err := queue.Enqueue(r.Context(), s.broker, queue.TypeCalculateRisk, 5, payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
