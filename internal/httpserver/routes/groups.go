package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/mw"
)

func init() { Register(registerGroups) }

func registerGroups(r chi.Router, d deps.Deps) {
	a := admin(r, d)
	a.Post("/api/bots/{bot}/groups/{group}/servers", handlers.AddSubscription(d))
	a.Delete("/api/bots/{bot}/groups/{group}/servers/{name}", handlers.RemoveSubscription(d))

	limit := mw.RateLimit(mw.RateLimitConfig{
		Burst:        d.QueryBurst,
		RefillPerMin: d.QueryRatePerMin,
		MaxEntries:   4096,
		Key: func(r *http.Request) string {
			return chi.URLParam(r, "bot") + "/" + chi.URLParam(r, "group")
		},
	})
	a.With(limit).Get("/api/bots/{bot}/groups/{group}/query", handlers.Query(d))
}
