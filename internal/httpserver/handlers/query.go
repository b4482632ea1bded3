package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
)

type queryResponse struct {
	Results []domain.QueryResult `json:"results"`
}

// Query probes every server of the group live.
func Query(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := subscriber(r)
		results, err := d.Monitor.Query(r.Context(), ref)
		if err != nil {
			d.Logger.Debug("query refused",
				logger.Stringer("subscriber", ref),
				logger.Error(err))
			writeError(w, err)
			return
		}
		if results == nil {
			results = []domain.QueryResult{}
		}
		writeJSON(w, http.StatusOK, queryResponse{Results: results})
	}
}
