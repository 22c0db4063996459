package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/surfacehq/surface/internal/config"
)

// corsMiddleware reflects the configured origins. "*" allows everything.
func corsMiddleware(origins []string) mux.MiddlewareFunc {
	allowAll := false
	allowed := map[string]bool{}
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware enforces X-API-Key and the per-key project ACL. Routes
// without a project_id var only need a valid key.
func authMiddleware(cfg *config.Config) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.AuthEnabled {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if key == "" || !cfg.ValidAPIKey(key) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid API key"})
				return
			}
			if projectID := mux.Vars(r)["project_id"]; projectID != "" {
				if !cfg.KeyAllowsProject(key, projectID) {
					writeJSON(w, http.StatusForbidden, map[string]string{"error": "API key not authorized for project"})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
