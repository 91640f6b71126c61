package routers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"openideax/collab/internal/api"
	"openideax/collab/internal/metrics"
)

func New(h *api.Handlers, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		metrics.Middleware,
		cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}),
	)

	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", metrics.Handler())

	// long-lived; kept outside the request timeout
	r.Get("/ws", h.CollabWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/rooms", h.ListRooms)
		r.Get("/rooms/{roomId}", h.GetRoom)
		r.Post("/rooms/{roomId}/synthesis", h.Synthesize)
		r.Get("/personas", h.ListPersonas)
	})

	return r
}
