// Package metricsserver exposes the supervisor's one operator-facing
// surface: a liveness probe and a read-only metrics snapshot, optionally
// guarded by the configured auth provider.
package metricsserver

import (
	"encoding/json"
	"net/http"

	"github.com/gwlsn/av1superd/internal/auth"
	"github.com/gwlsn/av1superd/internal/metrics"
)

// Server wraps a ServeMux with the shared metrics snapshot it serves.
type Server struct {
	mux *http.ServeMux
}

// New builds the metrics HTTP server. provider may be nil, in which case
// /api/metrics is unauthenticated, matching auth.mode == "none".
func New(shared *metrics.Shared, provider auth.Provider) *Server {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := shared.Get()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, "encode metrics", http.StatusInternalServerError)
		}
	})
	mux.Handle("GET /api/metrics", auth.Middleware(provider, metricsHandler))

	if provider != nil {
		mux.Handle("GET /auth/login", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := provider.HandleLogin(w, r); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}))
		mux.Handle("GET /auth/callback", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := provider.HandleCallback(w, r); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
			}
		}))
		mux.Handle("GET /auth/logout", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := provider.HandleLogout(w, r); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}))
	}

	return &Server{mux: mux}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
