package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/surfacehq/surface/internal/alerting"
	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/store"
)

// Channel types the notifier can deliver to.
var channelTypes = map[string]bool{
	"email": true, "webhook": true, "dingtalk": true, "feishu": true, "wechat": true,
}

type channelRequest struct {
	Name        string        `json:"name"`
	ChannelType string        `json:"channel_type"`
	Config      store.JSONMap `json:"config"`
	Enabled     *bool         `json:"enabled"`
}

func (s *Server) handleChannelCreate(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	if !channelTypes[req.ChannelType] {
		badRequest(w, "unsupported channel_type")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	channel, err := s.store.CreateNotificationChannel(r.Context(), &store.NotificationChannel{
		ProjectID:   mux.Vars(r)["project_id"],
		Name:        req.Name,
		ChannelType: req.ChannelType,
		Config:      req.Config,
		Enabled:     enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, maskedChannel(channel))
}

func (s *Server) handleChannelList(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ListNotificationChannels(r.Context(), mux.Vars(r)["project_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	masked := make([]*store.NotificationChannel, 0, len(channels))
	for _, c := range channels {
		masked = append(masked, maskedChannel(c))
	}
	writeJSON(w, http.StatusOK, masked)
}

func (s *Server) handleChannelGet(w http.ResponseWriter, r *http.Request) {
	channel, err := s.getProjectChannel(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maskedChannel(channel))
}

func (s *Server) handleChannelUpdate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getProjectChannel(r); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name    *string       `json:"name"`
		Config  store.JSONMap `json:"config"`
		Enabled *bool         `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	channel, err := s.store.UpdateNotificationChannel(r.Context(), mux.Vars(r)["channel_id"],
		req.Name, req.Config, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maskedChannel(channel))
}

func (s *Server) handleChannelDelete(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getProjectChannel(r); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteNotificationChannel(r.Context(), mux.Vars(r)["channel_id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChannelTest queues a canned test message; the worker records
// last_test_at / last_test_ok on the channel.
func (s *Server) handleChannelTest(w http.ResponseWriter, r *http.Request) {
	channel, err := s.getProjectChannel(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := queue.Enqueue(r.Context(), s.broker, queue.TypeTestChannel, 5,
		alerting.TestPayload{ChannelID: channel.ID}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) getProjectChannel(r *http.Request) (*store.NotificationChannel, error) {
	vars := mux.Vars(r)
	channel, err := s.store.GetNotificationChannel(r.Context(), vars["channel_id"])
	if err != nil {
		return nil, err
	}
	if channel.ProjectID != vars["project_id"] {
		return nil, store.ErrNotFound
	}
	return channel, nil
}

// --- Alert policies ---

type alertPolicyRequest struct {
	Name              string           `json:"name"`
	SeverityThreshold string           `json:"severity_threshold"`
	AggregationWindow int              `json:"aggregation_window"`
	CooldownMinutes   int              `json:"cooldown_minutes"`
	MaxAlertsPerHour  int              `json:"max_alerts_per_hour"`
	Conditions        store.JSONMap    `json:"conditions"`
	ChannelIDs        store.StringList `json:"channel_ids"`
	Enabled           *bool            `json:"enabled"`
}

func (s *Server) handleAlertPolicyCreate(w http.ResponseWriter, r *http.Request) {
	var req alertPolicyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	if req.SeverityThreshold == "" {
		req.SeverityThreshold = "medium"
	}
	policy, err := s.store.CreateAlertPolicy(r.Context(), &store.AlertPolicy{
		ProjectID:         mux.Vars(r)["project_id"],
		Name:              req.Name,
		SeverityThreshold: req.SeverityThreshold,
		AggregationWindow: req.AggregationWindow,
		CooldownMinutes:   req.CooldownMinutes,
		MaxAlertsPerHour:  req.MaxAlertsPerHour,
		Conditions:        req.Conditions,
		ChannelIDs:        req.ChannelIDs,
		Enabled:           req.Enabled == nil || *req.Enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

func (s *Server) handleAlertPolicyList(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListAlertPolicies(r.Context(), mux.Vars(r)["project_id"], false)
	respondList(w, policies, err)
}

func (s *Server) handleAlertPolicyGet(w http.ResponseWriter, r *http.Request) {
	policy, err := s.getProjectAlertPolicy(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handleAlertPolicyUpdate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getProjectAlertPolicy(r); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name              *string          `json:"name"`
		SeverityThreshold *string          `json:"severity_threshold"`
		AggregationWindow *int             `json:"aggregation_window"`
		CooldownMinutes   *int             `json:"cooldown_minutes"`
		MaxAlertsPerHour  *int             `json:"max_alerts_per_hour"`
		Conditions        store.JSONMap    `json:"conditions"`
		ChannelIDs        store.StringList `json:"channel_ids"`
		Enabled           *bool            `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	policy, err := s.store.UpdateAlertPolicy(r.Context(), mux.Vars(r)["policy_id"], store.AlertPolicyUpdate{
		Name:              req.Name,
		SeverityThreshold: req.SeverityThreshold,
		AggregationWindow: req.AggregationWindow,
		CooldownMinutes:   req.CooldownMinutes,
		MaxAlertsPerHour:  req.MaxAlertsPerHour,
		Conditions:        req.Conditions,
		ChannelIDs:        req.ChannelIDs,
		Enabled:           req.Enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (s *Server) handleAlertPolicyDelete(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getProjectAlertPolicy(r); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteAlertPolicy(r.Context(), mux.Vars(r)["policy_id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getProjectAlertPolicy(r *http.Request) (*store.AlertPolicy, error) {
	vars := mux.Vars(r)
	policy, err := s.store.GetAlertPolicy(r.Context(), vars["policy_id"])
	if err != nil {
		return nil, err
	}
	if policy.ProjectID != vars["project_id"] {
		return nil, store.ErrNotFound
	}
	return policy, nil
}

// --- Alert records ---

func (s *Server) handleAlertList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	records, err := s.store.ListAlertRecords(r.Context(), mux.Vars(r)["project_id"],
		r.URL.Query().Get("status"), limit, offset)
	respondList(w, records, err)
}

func (s *Server) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.GetAlertRecord(r.Context(), mux.Vars(r)["alert_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleAlertAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.moveAlert(w, r, store.AlertAcknowledged)
}

func (s *Server) handleAlertResolve(w http.ResponseWriter, r *http.Request) {
	s.moveAlert(w, r, store.AlertResolved)
}

func (s *Server) moveAlert(w http.ResponseWriter, r *http.Request, to string) {
	record, err := s.store.UpdateAlertStatus(r.Context(), mux.Vars(r)["alert_id"], to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
