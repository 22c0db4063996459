package api

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/surfacehq/surface/internal/config"
	"github.com/surfacehq/surface/internal/dag"
	"github.com/surfacehq/surface/internal/events"
	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/scan"
	"github.com/surfacehq/surface/internal/store"
)

var logAPI = log.New(log.Writer(), "[API] ", log.LstdFlags)

// Server exposes the platform over REST/JSON plus a websocket stream for DAG
// execution progress.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	scans    *scan.Service
	executor *dag.Executor
	bus      events.Bus
	broker   queue.Broker

	httpSrv *http.Server
}

// NewServer wires the API surface to its services.
func NewServer(cfg *config.Config, st *store.Store, scans *scan.Service,
	executor *dag.Executor, bus events.Bus, broker queue.Broker) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		scans:    scans,
		executor: executor,
		bus:      bus,
		broker:   broker,
	}
}

// Routes builds the full router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware(s.cfg.CORSOrigins))
	r.Use(authMiddleware(s.cfg))

	// --- Operational ---
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	// --- Projects ---
	r.HandleFunc("/projects", s.handleProjectCreate).Methods("POST")
	r.HandleFunc("/projects", s.handleProjectList).Methods("GET")
	r.HandleFunc("/projects/{project_id}", s.handleProjectGet).Methods("GET")
	r.HandleFunc("/projects/{project_id}", s.handleProjectUpdate).Methods("PATCH")
	r.HandleFunc("/projects/{project_id}", s.handleProjectDelete).Methods("DELETE")

	p := r.PathPrefix("/projects/{project_id}").Subrouter()

	// --- Assets ---
	p.HandleFunc("/assets/import", s.handleAssetImport).Methods("POST")
	p.HandleFunc("/subdomains", s.handleListSubdomains).Methods("GET")
	p.HandleFunc("/ips", s.handleListIPs).Methods("GET")
	p.HandleFunc("/ports", s.handleListPorts).Methods("GET")
	p.HandleFunc("/web-assets", s.handleListWebAssets).Methods("GET")
	p.HandleFunc("/js-assets", s.handleListJSAssets).Methods("GET")
	p.HandleFunc("/api-endpoints", s.handleListAPIEndpoints).Methods("GET")
	p.HandleFunc("/vulnerabilities", s.handleListVulnerabilities).Methods("GET")
	p.HandleFunc("/api-risks", s.handleListAPIRisks).Methods("GET")

	// --- Scans & policies ---
	p.HandleFunc("/scans", s.handleScanCreate).Methods("POST")
	p.HandleFunc("/scans", s.handleScanList).Methods("GET")
	p.HandleFunc("/policies", s.handlePolicyCreate).Methods("POST")
	p.HandleFunc("/policies", s.handlePolicyList).Methods("GET")
	p.HandleFunc("/policies/default", s.handlePolicyDefault).Methods("GET")
	p.HandleFunc("/policies/{policy_id}", s.handlePolicyGet).Methods("GET")
	p.HandleFunc("/policies/{policy_id}", s.handlePolicyUpdate).Methods("PATCH")
	p.HandleFunc("/policies/{policy_id}", s.handlePolicyDelete).Methods("DELETE")

	r.HandleFunc("/scans/{task_id}", s.handleScanGet).Methods("GET")
	r.HandleFunc("/scans/{task_id}", s.handleScanUpdate).Methods("PATCH")
	r.HandleFunc("/scans/{task_id}/start", s.handleScanStart).Methods("POST")
	r.HandleFunc("/scans/{task_id}/pause", s.handleScanPause).Methods("POST")
	r.HandleFunc("/scans/{task_id}/resume", s.handleScanResume).Methods("POST")
	r.HandleFunc("/scans/{task_id}/cancel", s.handleScanCancel).Methods("POST")

	// --- DAG templates & executions ---
	p.HandleFunc("/dag-templates", s.handleTemplateCreate).Methods("POST")
	p.HandleFunc("/dag-templates", s.handleTemplateList).Methods("GET")
	p.HandleFunc("/dag-templates/{template_id}", s.handleTemplateGet).Methods("GET")
	p.HandleFunc("/dag-templates/{template_id}", s.handleTemplateUpdate).Methods("PATCH")
	p.HandleFunc("/dag-templates/{template_id}", s.handleTemplateDelete).Methods("DELETE")
	p.HandleFunc("/dag-executions", s.handleExecutionCreate).Methods("POST")
	p.HandleFunc("/dag-executions", s.handleExecutionList).Methods("GET")

	r.HandleFunc("/executions/{execution_id}", s.handleExecutionGet).Methods("GET")
	r.HandleFunc("/executions/{execution_id}/start", s.handleExecutionStart).Methods("POST")
	r.HandleFunc("/executions/{execution_id}/cancel", s.handleExecutionCancel).Methods("POST")

	// --- Event triggers ---
	p.HandleFunc("/event-triggers", s.handleTriggerCreate).Methods("POST")
	p.HandleFunc("/event-triggers", s.handleTriggerList).Methods("GET")
	p.HandleFunc("/event-triggers/{trigger_id}", s.handleTriggerGet).Methods("GET")
	p.HandleFunc("/event-triggers/{trigger_id}", s.handleTriggerUpdate).Methods("PATCH")
	p.HandleFunc("/event-triggers/{trigger_id}", s.handleTriggerDelete).Methods("DELETE")
	p.HandleFunc("/events/emit", s.handleEventEmit).Methods("POST")

	// --- Risk ---
	p.HandleFunc("/risk/factors", s.handleRiskFactorCreate).Methods("POST")
	p.HandleFunc("/risk/factors", s.handleRiskFactorList).Methods("GET")
	p.HandleFunc("/risk/factors/{factor_id}", s.handleRiskFactorDelete).Methods("DELETE")
	p.HandleFunc("/risk/scores", s.handleRiskScoreList).Methods("GET")
	p.HandleFunc("/risk/scores/{asset_type}/{asset_id}", s.handleRiskScoreGet).Methods("GET")
	p.HandleFunc("/risk/calculate", s.handleRiskCalculate).Methods("POST")

	// --- Alerting ---
	p.HandleFunc("/notification-channels", s.handleChannelCreate).Methods("POST")
	p.HandleFunc("/notification-channels", s.handleChannelList).Methods("GET")
	p.HandleFunc("/notification-channels/{channel_id}", s.handleChannelGet).Methods("GET")
	p.HandleFunc("/notification-channels/{channel_id}", s.handleChannelUpdate).Methods("PATCH")
	p.HandleFunc("/notification-channels/{channel_id}", s.handleChannelDelete).Methods("DELETE")
	p.HandleFunc("/notification-channels/{channel_id}/test", s.handleChannelTest).Methods("POST")
	p.HandleFunc("/alerts/policies", s.handleAlertPolicyCreate).Methods("POST")
	p.HandleFunc("/alerts/policies", s.handleAlertPolicyList).Methods("GET")
	p.HandleFunc("/alerts/policies/{policy_id}", s.handleAlertPolicyGet).Methods("GET")
	p.HandleFunc("/alerts/policies/{policy_id}", s.handleAlertPolicyUpdate).Methods("PATCH")
	p.HandleFunc("/alerts/policies/{policy_id}", s.handleAlertPolicyDelete).Methods("DELETE")
	p.HandleFunc("/alerts", s.handleAlertList).Methods("GET")

	r.HandleFunc("/alerts/{alert_id}", s.handleAlertGet).Methods("GET")
	r.HandleFunc("/alerts/{alert_id}/acknowledge", s.handleAlertAcknowledge).Methods("POST")
	r.HandleFunc("/alerts/{alert_id}/resolve", s.handleAlertResolve).Methods("POST")

	// --- Websocket ---
	r.HandleFunc("/ws/projects/{project_id}/executions/{execution_id}", s.handleExecutionStream)

	return r
}

// Start serves until ctx is cancelled, then drains with a 10 s grace period.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server listening", "addr", s.cfg.ListenAddr)
		errCh <- s.httpSrv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.CheckInitialized(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pagination reads limit/offset query params; the store clamps the limit.
func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
