/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/schedules/*      Stateless schedule computation
  /api/lines/*          Source lines and their schedules
  /api/spread-lines/*   Single spread line realization
  /api/realize-due      Due-date batch realization
  /api/moves/*          Journal moves and guarded cancellation
  /api/scenarios/*      Demo scenarios
  /api/reset            Database reset (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/schedules/preview", h.PreviewSchedule)

		// Source line routes
		r.Route("/lines", func(r chi.Router) {
			r.Get("/", h.ListSourceLines)
			r.Post("/", h.CreateSourceLine)
			r.Get("/{id}", h.GetSourceLine)
			r.Post("/{id}/finalize", h.FinalizeSourceLine)
			r.Post("/{id}/schedule", h.GenerateSchedule)
			r.Put("/{id}/schedule", h.RegenerateSchedule)
			r.Delete("/{id}/schedule", h.ClearSchedule)
			r.Get("/{id}/spread", h.GetSpreadLines)
			r.Get("/{id}/spread.xlsx", h.ExportSpreadLines)
			r.Get("/{id}/details", h.GetSpreadDetails)
			r.Post("/{id}/realize", h.RealizeSourceLine)
		})

		r.Post("/spread-lines/{id}/realize", h.RealizeSpreadLine)
		r.Post("/realize-due", h.RealizeDue)

		// Move routes
		r.Route("/moves", func(r chi.Router) {
			r.Get("/", h.ListMoves)
			r.Get("/{id}", h.GetMove)
			r.Post("/{id}/post", h.PostMove)
			r.Post("/{id}/cancel", h.CancelMove)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})

		r.Post("/reset", h.ResetDatabase)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Cost Spread Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Cost Spread Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/lines">/api/lines</a> - List source lines</li>
<li><a href="/api/moves">/api/moves</a> - Latest journal moves</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
