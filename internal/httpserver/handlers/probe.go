package handlers

import (
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
)

type probeResponse struct {
	Host      string                `json:"host"`
	Port      int                   `json:"port"`
	Protocol  domain.ProtocolKind   `json:"type"`
	Reachable bool                  `json:"reachable"`
	Reading   *domain.StatusReading `json:"reading,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Probe queries ?address= once with ?type= (java by default).
// An unreachable server is a normal 200 answer.
func Probe(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		address := strings.TrimSpace(q.Get("address"))
		protocol := q.Get("type")

		addr, reading, err := d.Monitor.Probe(r.Context(), address, protocol)
		if addr.Host == "" {
			writeError(w, err)
			return
		}
		kind, _ := domain.ParseProtocol(protocol)
		out := probeResponse{Host: addr.Host, Port: addr.Port, Protocol: kind}
		if err != nil || reading == nil {
			d.Logger.Debug("ad-hoc probe failed",
				logger.String("server", addr.String()),
				logger.Error(err))
			if err != nil {
				out.Error = err.Error()
			}
			writeJSON(w, http.StatusOK, out)
			return
		}
		out.Reachable = true
		out.Reading = reading
		writeJSON(w, http.StatusOK, out)
	}
}
