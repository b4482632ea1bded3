package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
)

type enableResponse struct {
	Enable bool `json:"enable"`
}

// SetGlobalEnabled flips the global switch.
func SetGlobalEnabled(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enableRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		enabled, err := req.value()
		if err != nil {
			writeError(w, err)
			return
		}
		if err := d.Monitor.SetGlobalEnabled(r.Context(), enabled); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, enableResponse{Enable: enabled})
	}
}

// SetBotEnabled flips the switch of bot {bot}, creating it if needed.
func SetBotEnabled(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enableRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		enabled, err := req.value()
		if err != nil {
			writeError(w, err)
			return
		}
		if err := d.Monitor.SetAccountEnabled(r.Context(), chi.URLParam(r, "bot"), enabled); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, enableResponse{Enable: enabled})
	}
}

type groupValueResponse struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func pathParam(r *http.Request) string {
	if p := r.URL.Query().Get("path"); p != "" {
		return p
	}
	return "."
}

// GetGroupSetting reads ?path= from the group settings. Missing groups read
// as defaults.
func GetGroupSetting(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := pathParam(r)
		v, err := d.Monitor.GroupValue(subscriber(r), path)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, groupValueResponse{Path: path, Value: v})
	}
}

// SetGroupSetting writes the JSON body to ?path=. Only the flags are writable.
func SetGroupSetting(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := pathParam(r)
		var raw json.RawMessage
		if err := decodeBody(r, &raw); err != nil {
			writeError(w, err)
			return
		}
		ref := subscriber(r)
		if err := d.Monitor.SetGroupValue(r.Context(), ref, path, raw); err != nil {
			writeError(w, err)
			return
		}
		v, err := d.Monitor.GroupValue(ref, path)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, groupValueResponse{Path: path, Value: v})
	}
}
