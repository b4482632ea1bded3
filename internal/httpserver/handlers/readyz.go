package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
)

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// Readyz reports whether the settings backend answers.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := d.Monitor.Ready(ctx); err != nil {
			d.Logger.Warn("settings backend not ready", logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, readyzResponse{Ready: true})
	}
}
