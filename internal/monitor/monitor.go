// Package monitor wires the settings store, the registry, the polling engine
// and the notification router behind one API for the command layer.
//
// Mutations go through a single mutex so the store and the registry change
// together: the store is saved first and the registry only follows a
// successful save.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/mcwatch/internal/delivery"
	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
	"github.com/MrSnakeDoc/mcwatch/internal/metrics"
	"github.com/MrSnakeDoc/mcwatch/internal/notify"
	"github.com/MrSnakeDoc/mcwatch/internal/poller"
	"github.com/MrSnakeDoc/mcwatch/internal/registry"
	"github.com/MrSnakeDoc/mcwatch/internal/settings"
)

const defaultDeliveryTimeout = 5 * time.Second

type Options struct {
	ProbeTimeout    time.Duration
	DeliveryTimeout time.Duration
}

type Monitor struct {
	mu        sync.Mutex
	store     *settings.Store
	registry  *registry.Registry
	engine    *poller.Engine
	router    *notify.Router
	deliverer delivery.Deliverer
	prober    domain.Prober
	logger    logger.Logger
	metrics   *metrics.Metrics
	opts      Options
	inflight  sync.WaitGroup
}

// New builds the registry, engine and router around store and loads the
// registry from the stored subscriptions.
func New(
	store *settings.Store,
	prober domain.Prober,
	deliverer delivery.Deliverer,
	log logger.Logger,
	m *metrics.Metrics,
	engineOpts poller.Options,
	opts Options,
) *Monitor {
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = engineOpts.ProbeTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = poller.DefaultProbeTimeout
	}

	reg := registry.New()
	mon := &Monitor{
		store:     store,
		registry:  reg,
		engine:    poller.New(reg, prober, log.With(logger.String("component", "poller")), m, engineOpts),
		router:    notify.NewRouter(reg, store, deliverer, prober, log.With(logger.String("component", "router")), opts.ProbeTimeout),
		deliverer: deliverer,
		prober:    prober,
		logger:    log,
		metrics:   m,
		opts:      opts,
	}
	reg.Rebuild(store.Bindings())
	log.Info("registry loaded",
		logger.Int("servers", reg.Len()),
		logger.Int("subscriptions", len(store.Bindings())))
	return mon
}

// AddSubscription parses and stores a new subscription for ref and starts
// polling its server.
func (m *Monitor) AddSubscription(ctx context.Context, ref domain.SubscriberRef, name, address, protocol string) (domain.Subscription, domain.ServerKey, error) {
	sub, err := domain.NewSubscription(name, address, protocol)
	if err != nil {
		return domain.Subscription{}, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.AddSubscription(ctx, ref, sub); err != nil {
		return domain.Subscription{}, "", err
	}
	key := m.registry.Register(ref, sub)
	m.logger.Info("subscription added",
		logger.Stringer("subscriber", ref),
		logger.String("name", sub.Name),
		logger.String("server", sub.Address().String()),
		logger.String("key", key.Short()))
	return sub, key, nil
}

// RemoveSubscription deletes the subscription called name. The server stops
// being polled once no group references it.
func (m *Monitor) RemoveSubscription(ctx context.Context, ref domain.SubscriberRef, name string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, err := m.store.RemoveSubscription(ctx, ref, name)
	if err != nil {
		return domain.Subscription{}, err
	}
	gone, err := m.registry.Unregister(ref, sub)
	if err != nil {
		// stored and registered bindings always match under m.mu
		m.logger.Error("registry out of sync, rebuilding",
			logger.Stringer("subscriber", ref),
			logger.String("name", name),
			logger.Error(err))
		m.registry.Rebuild(m.store.Bindings())
	}
	m.logger.Info("subscription removed",
		logger.Stringer("subscriber", ref),
		logger.String("name", sub.Name),
		logger.Bool("server_dropped", gone))
	return sub, nil
}

func (m *Monitor) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetGlobalEnabled(ctx, enabled); err != nil {
		return err
	}
	m.logger.Info("global switch changed", logger.Bool("enable", enabled))
	return nil
}

func (m *Monitor) SetAccountEnabled(ctx context.Context, accountID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetAccountEnabled(ctx, accountID, enabled); err != nil {
		return err
	}
	m.logger.Info("bot switch changed",
		logger.String("bot", accountID),
		logger.Bool("enable", enabled))
	return nil
}

func (m *Monitor) SetGroupValue(ctx context.Context, ref domain.SubscriberRef, path string, raw json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetGroupValue(ctx, ref, path, raw); err != nil {
		return err
	}
	m.logger.Info("group setting changed",
		logger.Stringer("subscriber", ref),
		logger.String("path", path),
		logger.String("value", string(raw)))
	return nil
}

func (m *Monitor) GroupValue(ref domain.SubscriberRef, path string) (any, error) {
	return m.store.GroupValue(ref, path)
}

func (m *Monitor) Access(ref domain.SubscriberRef) domain.Access {
	return m.store.Access(ref)
}

// Reload rereads the stored settings and rebuilds the registry. Servers that
// survive keep their last known reachability.
func (m *Monitor) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Reload(ctx); err != nil {
		return err
	}
	m.registry.Rebuild(m.store.Bindings())
	m.logger.Info("settings reloaded", logger.Int("servers", m.registry.Len()))
	return nil
}

// Query runs a live status query for every server of ref.
func (m *Monitor) Query(ctx context.Context, ref domain.SubscriberRef) ([]domain.QueryResult, error) {
	return m.router.Query(ctx, ref)
}

// Probe queries an arbitrary address once. It does not touch the registry
// and is not gated by any flag.
func (m *Monitor) Probe(ctx context.Context, address, protocol string) (domain.Address, *domain.StatusReading, error) {
	kind, err := domain.ParseProtocol(protocol)
	if err != nil {
		return domain.Address{}, nil, err
	}
	addr, err := domain.ParseAddress(address, kind)
	if err != nil {
		return domain.Address{}, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	reading, err := m.prober.Probe(ctx, addr, kind)
	return addr, reading, err
}

func (m *Monitor) Servers() []registry.PhysicalServer {
	return m.registry.List()
}

// Tick runs one poll tick. It lets Monitor drive a scheduler directly.
func (m *Monitor) Tick(ctx context.Context) (*poller.TickResult, error) {
	return m.engine.Tick(ctx)
}

// HandleTick routes the transitions of res and dispatches the events in the
// background. Delivery never affects the recorded reachability.
func (m *Monitor) HandleTick(ctx context.Context, res *poller.TickResult) {
	if res == nil || len(res.Transitions) == 0 {
		return
	}
	events := m.router.Route(res.Transitions)
	if len(events) == 0 {
		return
	}

	dctx := context.WithoutCancel(ctx)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		if err := m.deliverAll(dctx, events); err != nil {
			m.logger.Warn("some notifications were not delivered", logger.Error(err))
		}
	}()
}

// deliverAll sends every event concurrently, each bounded by
// DeliveryTimeout, and returns the combined failures.
func (m *Monitor) deliverAll(ctx context.Context, events []domain.NotificationEvent) error {
	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for _, ev := range events {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, m.opts.DeliveryTimeout)
			defer cancel()

			err := m.deliverer.Deliver(dctx, ev)
			m.metrics.Notification(err == nil)
			if err != nil {
				m.logger.Warn("notification delivery failed",
					logger.String("event_id", ev.ID),
					logger.Stringer("subscriber", ev.Subscriber),
					logger.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return
			}
			m.logger.Debug("notification delivered",
				logger.String("event_id", ev.ID),
				logger.Stringer("subscriber", ev.Subscriber),
				logger.Stringer("transition", ev.Kind))
		}()
	}
	wg.Wait()
	return errs
}

// Wait blocks until background deliveries finish or ctx is done.
func (m *Monitor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the settings backend is reachable.
func (m *Monitor) Ready(ctx context.Context) error {
	return m.store.Ping(ctx)
}
