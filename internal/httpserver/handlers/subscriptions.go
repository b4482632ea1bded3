package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
)

type addSubscriptionRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Type    string `json:"type"`
}

type subscriptionResponse struct {
	Subscription domain.Subscription `json:"subscription"`
	Key          domain.ServerKey    `json:"server_key"`
}

// AddSubscription binds a named server to group {group} of bot {bot}.
func AddSubscription(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addSubscriptionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		sub, key, err := d.Monitor.AddSubscription(r.Context(), subscriber(r), req.Name, req.Address, req.Type)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, subscriptionResponse{Subscription: sub, Key: key})
	}
}

// RemoveSubscription deletes subscription {name} from the group.
func RemoveSubscription(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := d.Monitor.RemoveSubscription(r.Context(), subscriber(r), chi.URLParam(r, "name")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
