package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tablesync/internal/hub"
	"github.com/DoyleJ11/tablesync/internal/observability"
	"github.com/DoyleJ11/tablesync/internal/ws"
)

func SetupRoutes(h *hub.Hub, wsCfg ws.Config, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetrics)

	// Public routes
	r.Post("/games", CreateGame(h, log))
	r.Get("/games/{code}", GetGame(h))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, wsCfg, log))
	r.Handle("/metrics", observability.Handler())
	return r
}
