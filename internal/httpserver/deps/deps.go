package deps

import (
	"time"

	"github.com/MrSnakeDoc/mcwatch/internal/logger"
	"github.com/MrSnakeDoc/mcwatch/internal/metrics"
	"github.com/MrSnakeDoc/mcwatch/internal/monitor"
)

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	AllowedCIDRS []string         // IPs allowed to reach the admin API
	TrustProxy   bool             // true if running behind a trusted reverse proxy
	Monitor      *monitor.Monitor // subscriptions, flags, queries and registry
	Metrics      *metrics.Metrics // nil disables /metrics
	PollTrigger  chan struct{}    // manual poll tick trigger, buffered (size 1)

	QueryRatePerMin int // on-demand queries per minute per (bot, group)
	QueryBurst      int
}
