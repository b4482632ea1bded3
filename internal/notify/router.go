// Package notify turns reachability transitions into per-group
// notification events and serves on-demand status queries.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
	"github.com/MrSnakeDoc/mcwatch/internal/registry"
)

// ErrNotPermitted is returned when a group may not run a query.
var ErrNotPermitted = errors.New("query not permitted for this group")

// Settings resolves group flags and subscriptions.
type Settings interface {
	Access(ref domain.SubscriberRef) domain.Access
	Subscriptions(ref domain.SubscriberRef) []domain.Subscription
}

// Availability reports whether a bot account can currently deliver.
type Availability interface {
	Active(accountID string) bool
}

// AvailabilityFunc adapts a function to Availability.
type AvailabilityFunc func(accountID string) bool

func (f AvailabilityFunc) Active(accountID string) bool { return f(accountID) }

// AlwaysActive treats every account as available.
var AlwaysActive = AvailabilityFunc(func(string) bool { return true })

const defaultQueryTimeout = 5 * time.Second

type Router struct {
	registry     *registry.Registry
	settings     Settings
	availability Availability
	prober       domain.Prober
	logger       logger.Logger
	probeTimeout time.Duration
	now          func() time.Time
}

func NewRouter(
	reg *registry.Registry,
	settings Settings,
	availability Availability,
	prober domain.Prober,
	log logger.Logger,
	probeTimeout time.Duration,
) *Router {
	if availability == nil {
		availability = AlwaysActive
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultQueryTimeout
	}
	return &Router{
		registry:     reg,
		settings:     settings,
		availability: availability,
		prober:       prober,
		logger:       log,
		probeTimeout: probeTimeout,
		now:          time.Now,
	}
}

type routeKey struct {
	ref domain.SubscriberRef
	key domain.ServerKey
}

// Route returns one event per (group, server) pair whose group has checks
// enabled at every scope and whose bot is available.
func (r *Router) Route(transitions []domain.Transition) []domain.NotificationEvent {
	var events []domain.NotificationEvent
	seen := mapset.NewThreadUnsafeSet[routeKey]()
	at := r.now()

	for _, tr := range transitions {
		srv, ok := r.registry.Get(tr.Key)
		if !ok {
			continue
		}
		for _, ref := range srv.Subscribers {
			if !seen.Add(routeKey{ref: ref, key: tr.Key}) {
				continue
			}
			access := r.settings.Access(ref)
			if !access.Enabled || !access.Check {
				r.logger.Debug("transition not routed, checks disabled",
					logger.Stringer("subscriber", ref),
					logger.String("key", tr.Key.Short()))
				continue
			}
			if !r.availability.Active(ref.AccountID) {
				r.logger.Debug("transition not routed, bot unavailable",
					logger.String("bot", ref.AccountID))
				continue
			}
			events = append(events, domain.NotificationEvent{
				ID:         uuid.NewString(),
				Subscriber: ref,
				Key:        tr.Key,
				Kind:       tr.Kind,
				Host:       srv.Host,
				Port:       srv.Port,
				Protocol:   srv.Protocol,
				Names:      r.registry.SubscriptionNames(tr.Key, ref),
				At:         at,
			})
		}
	}
	return events
}

// Query probes every server subscribed by ref live and returns one result
// per subscription, in the group's order. A server shared by several
// subscriptions is probed once.
func (r *Router) Query(ctx context.Context, ref domain.SubscriberRef) ([]domain.QueryResult, error) {
	access := r.settings.Access(ref)
	if !access.Enabled || !access.Query {
		return nil, fmt.Errorf("%w: %s", ErrNotPermitted, ref)
	}

	subs := r.settings.Subscriptions(ref)
	readings := make(map[domain.ServerKey]*domain.StatusReading, len(subs))
	targets := make(map[domain.ServerKey]domain.Subscription, len(subs))
	for _, sub := range subs {
		if _, ok := targets[sub.Key()]; !ok {
			targets[sub.Key()] = sub
		}
	}

	type probed struct {
		key     domain.ServerKey
		reading *domain.StatusReading
	}
	results := make(chan probed, len(targets))

	var g errgroup.Group
	for key, sub := range targets {
		kind := sub.Protocol
		if srv, ok := r.registry.Get(key); ok {
			kind = srv.Protocol
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
			defer cancel()
			reading, err := r.prober.Probe(pctx, sub.Address(), kind)
			if err != nil {
				r.logger.Debug("query probe failed",
					logger.String("server", sub.Address().String()),
					logger.Error(err))
				reading = nil // unreachable
			}
			results <- probed{key: key, reading: reading}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for p := range results {
		readings[p.key] = p.reading
	}

	out := make([]domain.QueryResult, 0, len(subs))
	for _, sub := range subs {
		key := sub.Key()
		out = append(out, domain.QueryResult{
			Subscriber: ref,
			Key:        key,
			Name:       sub.Name,
			Host:       sub.Host,
			Port:       sub.Port,
			Protocol:   sub.Protocol,
			Reading:    readings[key],
		})
	}
	return out, nil
}
