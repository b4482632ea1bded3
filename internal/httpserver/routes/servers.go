package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/handlers"
)

func init() { Register(registerServers) }

func registerServers(r chi.Router, d deps.Deps) {
	a := admin(r, d)
	a.Get("/api/servers", handlers.Servers(d))
	a.Get("/api/probe", handlers.Probe(d))
	a.Post("/api/poll", handlers.Poll(d))
	a.Post("/api/reload", handlers.Reload(d))
}
