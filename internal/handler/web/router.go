// Package web serves the WebSocket gateway, the review read API and the
// operational endpoints.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/foodbot/internal/model/review"
	"github.com/zhouzirui/foodbot/pkg/utils"
)

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires HTTP routes. hub may be nil when the web gateway is
// disabled; health may be nil when the store has no health check.
func NewRouter(reviews review.Store, hub *Hub, health Pinger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health.Ping(r.Context()); err != nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "review store unavailable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	if hub != nil {
		r.Get("/ws", hub.ServeHTTP)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Logger)
		NewReviewHandler(reviews).RegisterRoutes(api)
	})

	return r
}
