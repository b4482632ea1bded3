package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/handlers"
)

func init() { Register(registerSettings) }

func registerSettings(r chi.Router, d deps.Deps) {
	a := admin(r, d)
	a.Put("/api/settings/enable", handlers.SetGlobalEnabled(d))
	a.Put("/api/bots/{bot}/enable", handlers.SetBotEnabled(d))
	a.Get("/api/bots/{bot}/groups/{group}/settings", handlers.GetGroupSetting(d))
	a.Put("/api/bots/{bot}/groups/{group}/settings", handlers.SetGroupSetting(d))
}
