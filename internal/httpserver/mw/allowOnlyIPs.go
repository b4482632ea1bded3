package mw

import (
	"net/http"

	"github.com/MrSnakeDoc/mcwatch/internal/logger"
	"github.com/MrSnakeDoc/mcwatch/internal/utils"
)

// AllowOnlyCIDRS restricts the admin API to the given IPs/CIDRs. An empty list
// disables filtering.
// trustProxy should be true only when the API is reachable solely through a
// trusted reverse proxy.
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	m := utils.NewIPMatcher(allowed)
	if m.IsEmpty() {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustProxy)
			if !m.Allow(ip) {
				log.Warn("admin request rejected",
					logger.String("ip", ip),
					logger.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
