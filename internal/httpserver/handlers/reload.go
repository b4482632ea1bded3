package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
	"github.com/MrSnakeDoc/mcwatch/internal/scheduler"
)

type reloadResponse struct {
	Servers int `json:"servers"`
}

// Reload rereads the settings document from its backend.
func Reload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Monitor.Reload(r.Context()); err != nil {
			d.Logger.Error("settings reload failed",
				logger.String("remote_ip", r.RemoteAddr),
				logger.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reloadResponse{Servers: len(d.Monitor.Servers())})
	}
}

type pollResponse struct {
	Triggered bool   `json:"triggered"`
	Message   string `json:"message"`
}

// Poll asks the scheduler for an immediate tick.
func Poll(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.PollTrigger == nil || !scheduler.Trigger(d.PollTrigger) {
			d.Logger.Warn("manual poll already pending",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, http.StatusTooManyRequests, pollResponse{Message: "poll already pending"})
			return
		}
		d.Logger.Info("manual poll triggered via endpoint",
			logger.String("remote_ip", r.RemoteAddr))
		writeJSON(w, http.StatusAccepted, pollResponse{Triggered: true, Message: "poll triggered"})
	}
}
