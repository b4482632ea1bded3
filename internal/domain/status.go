package domain

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// Reachability is the last known state of a server.
type Reachability int

const (
	Unknown Reachability = iota
	Online
	Offline
)

func (r Reachability) String() string {
	switch r {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

func (r Reachability) Known() bool {
	return r == Online || r == Offline
}

func (r Reachability) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// TransitionKind is the direction of a reachability change.
type TransitionKind int

const (
	WentOffline TransitionKind = iota + 1
	WentOnline
)

func (k TransitionKind) String() string {
	switch k {
	case WentOnline:
		return "offline=>online"
	case WentOffline:
		return "online=>offline"
	default:
		return "none"
	}
}

func (k TransitionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// DetectTransition reports the transition between two consecutive readings.
// Nothing is reported unless the previous reading was known and differs.
func DetectTransition(prev, next Reachability) (TransitionKind, bool) {
	if !prev.Known() || !next.Known() || prev == next {
		return 0, false
	}
	if next == Online {
		return WentOnline, true
	}
	return WentOffline, true
}

// Transition is one detected change for one physical server.
type Transition struct {
	Key      ServerKey
	Kind     TransitionKind
	Previous Reachability
	Current  Reachability
}

// StatusReading is a successful status query.
type StatusReading struct {
	Latency         time.Duration `json:"latency"`
	PlayersOnline   int           `json:"players_online"`
	PlayersMax      int           `json:"players_max"`
	Version         string        `json:"version"`
	ProtocolVersion int           `json:"protocol_version"`
	MOTD            string        `json:"motd,omitempty"`
	// Edition is the bedrock edition tag (MCPE/MCEE). Empty for java.
	Edition string `json:"edition,omitempty"`
	// Icon is the java favicon as sent by the server (a data URI).
	Icon string `json:"icon,omitempty"`
}

// IconPNG decodes the favicon data URI.
func (s *StatusReading) IconPNG() ([]byte, error) {
	if s == nil || s.Icon == "" {
		return nil, errors.New("no icon")
	}
	_, payload, ok := strings.Cut(s.Icon, ",")
	if !ok {
		payload = s.Icon
	}
	return base64.StdEncoding.DecodeString(payload)
}

// Prober performs one status query. Any returned error means unreachable.
// Implementations must honor ctx cancellation and deadline.
type Prober interface {
	Probe(ctx context.Context, addr Address, kind ProtocolKind) (*StatusReading, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, addr Address, kind ProtocolKind) (*StatusReading, error)

func (f ProberFunc) Probe(ctx context.Context, addr Address, kind ProtocolKind) (*StatusReading, error) {
	return f(ctx, addr, kind)
}
