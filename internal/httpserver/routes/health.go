package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/handlers"
)

func init() { Register(registerHealth) }

func registerHealth(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))
	admin(r, d).Get("/readyz", handlers.Readyz(d))
	if d.Metrics != nil {
		admin(r, d).Method("GET", "/metrics", d.Metrics.Handler())
	}
}
