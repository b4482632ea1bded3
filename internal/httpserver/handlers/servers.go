package handlers

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
)

type serverView struct {
	Key          domain.ServerKey       `json:"key"`
	Host         string                 `json:"host"`
	Port         int                    `json:"port"`
	Protocol     domain.ProtocolKind    `json:"type"`
	Reachability domain.Reachability    `json:"reachability"`
	LastChecked  *time.Time             `json:"last_checked,omitempty"`
	Subscribers  []domain.SubscriberRef `json:"subscribers"`
}

type serversResponse struct {
	Count   int          `json:"count"`
	Servers []serverView `json:"servers"`
}

// Servers lists every physical server being polled.
func Servers(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := d.Monitor.Servers()
		out := serversResponse{Count: len(list), Servers: make([]serverView, 0, len(list))}
		for _, s := range list {
			v := serverView{
				Key:          s.Key,
				Host:         s.Host,
				Port:         s.Port,
				Protocol:     s.Protocol,
				Reachability: s.Reachability,
				Subscribers:  s.Subscribers,
			}
			if !s.LastChecked.IsZero() {
				at := s.LastChecked
				v.LastChecked = &at
			}
			out.Servers = append(out.Servers, v)
		}
		writeJSON(w, http.StatusOK, out)
	}
}
