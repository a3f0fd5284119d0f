package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lorawatch/internal/auth"
	"github.com/nerrad567/lorawatch/internal/dashboard"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Dashboard (public page; its API calls carry the token)
	r.Get("/", redirectToDashboard)
	r.Get("/dashboard", redirectToDashboard)
	r.Handle("/dashboard/*", http.StripPrefix("/dashboard", dashboard.Handler(s.cfg.DashboardDir)))

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/stats", s.handleStats)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{eui}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/commands", s.handleListCommands)
					r.With(s.requirePermission(auth.PermDeviceControl)).
						Post("/control", s.handleControlDevice)
				})
			})

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

func redirectToDashboard(w http.ResponseWriter, r *http.Request) {
	target := "/dashboard/"
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Checks      map[string]string `json:"checks,omitempty"`
	Ingest      any               `json:"ingest,omitempty"`
	Persistence any               `json:"persistence,omitempty"`
	Broadcast   any               `json:"broadcast"`
}

// handleHealth reports liveness plus the state of every dependency.
// Any failing check turns the response into a 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   s.version,
		Broadcast: s.hub.Stats(),
	}

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, checker := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := checker.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	if s.ingest != nil {
		resp.Ingest = s.ingest.Stats()
	}
	if s.persistence != nil {
		resp.Persistence = s.persistence.Stats()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
