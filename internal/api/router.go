package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sensor-relay/internal/webui"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// WebSocket endpoints (auth via token query parameter, checked after upgrade)
	r.Get(s.wsCfg.DevicePath, s.handleDeviceSocket)
	r.Get(s.wsCfg.AppPath, s.handleAppSocket)

	r.Route("/api", func(r chi.Router) {
		// Unauthenticated monitoring
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Token-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(s.homeAuthMiddleware)

			r.Get("/whoami", s.handleWhoAmI)
			r.Get("/devices/online", s.handleOnlineDevices)
			r.Get("/sessions", s.handleListSessions)
		})

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeNotFound(w, "no such endpoint")
		})
	})

	// Everything else is the single-page UI.
	r.Handle("/*", webui.Handler(s.cfg.StaticDir))

	return r
}
