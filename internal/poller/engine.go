// Package poller runs poll ticks: one concurrent probe per physical server,
// followed by a diff of the new reachability against the last known one.
package poller

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
	"github.com/MrSnakeDoc/mcwatch/internal/metrics"
	"github.com/MrSnakeDoc/mcwatch/internal/registry"
)

// ErrTickInProgress is returned when a tick starts while another is running.
// Ticks never overlap; the late one is skipped.
var ErrTickInProgress = errors.New("poll tick already in progress")

const DefaultProbeTimeout = 5 * time.Second

// Options tunes an Engine.
type Options struct {
	// ProbeTimeout bounds each probe. Defaults to DefaultProbeTimeout.
	ProbeTimeout time.Duration
	// Concurrency caps simultaneous probes. 0 runs one task per server.
	Concurrency int
}

// TickResult summarizes one tick.
type TickResult struct {
	StartedAt   time.Time
	Duration    time.Duration
	Probed      int
	Online      int
	Offline     int
	Transitions []domain.Transition
	// Dropped lists servers unregistered while their probe was in flight.
	// Their reading was discarded.
	Dropped []domain.ServerKey
}

type outcome struct {
	server registry.PhysicalServer
	next   domain.Reachability
	err    error
}

// Engine owns every write to the registry's reachability.
type Engine struct {
	registry *registry.Registry
	prober   domain.Prober
	logger   logger.Logger
	metrics  *metrics.Metrics
	opts     Options
	running  atomic.Bool
	now      func() time.Time
}

func New(reg *registry.Registry, prober domain.Prober, log logger.Logger, m *metrics.Metrics, opts Options) *Engine {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Concurrency < 0 {
		opts.Concurrency = 0
	}
	return &Engine{
		registry: reg,
		prober:   prober,
		logger:   log,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// Tick probes every registered server once and returns the transitions.
//
// Probes run on a context detached from ctx's cancellation: once started,
// a tick always runs to completion (each probe is bounded by ProbeTimeout)
// and every reading is applied, so shutdown never leaves a tick half done.
func (e *Engine) Tick(ctx context.Context) (*TickResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.metrics.TickSkipped()
		return nil, ErrTickInProgress
	}
	defer e.running.Store(false)

	start := e.now()
	probeCtx := context.WithoutCancel(ctx)

	servers := slices.Collect(e.registry.Servers())
	outcomes := make([]outcome, len(servers))

	var g errgroup.Group
	if e.opts.Concurrency > 0 {
		g.SetLimit(e.opts.Concurrency)
	}
	for i, srv := range servers {
		g.Go(func() error {
			outcomes[i] = e.probe(probeCtx, srv)
			return nil
		})
	}
	_ = g.Wait() // probe tasks never fail; errors map to Offline

	res := &TickResult{StartedAt: start, Probed: len(servers)}
	at := e.now()
	for _, o := range outcomes {
		e.apply(res, o, at)
	}
	slices.SortFunc(res.Transitions, func(a, b domain.Transition) int {
		return strings.Compare(string(a.Key), string(b.Key))
	})

	res.Duration = e.now().Sub(start)
	e.metrics.ObserveTick(res.Duration, e.registry.Len())
	e.logger.Debug("poll tick completed",
		logger.Int("servers", res.Probed),
		logger.Int("online", res.Online),
		logger.Int("offline", res.Offline),
		logger.Int("transitions", len(res.Transitions)),
		logger.Duration("duration", res.Duration))

	return res, nil
}

func (e *Engine) probe(ctx context.Context, srv registry.PhysicalServer) outcome {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	defer cancel()

	reading, err := e.prober.Probe(ctx, srv.Address(), srv.Protocol)
	if err == nil && reading == nil {
		err = errors.New("prober returned no reading")
	}
	if err != nil {
		return outcome{server: srv, next: domain.Offline, err: err}
	}
	return outcome{server: srv, next: domain.Online}
}

func (e *Engine) apply(res *TickResult, o outcome, at time.Time) {
	key := o.server.Key
	e.metrics.Probe(o.next)
	if o.next == domain.Online {
		res.Online++
	} else {
		res.Offline++
		e.logger.Debug("probe failed",
			logger.String("server", o.server.Address().String()),
			logger.String("key", key.Short()),
			logger.Error(o.err))
	}

	prev, ok := e.registry.Observe(key, o.next, at)
	if !ok {
		res.Dropped = append(res.Dropped, key)
		e.logger.Info("discarding reading for server removed during tick",
			logger.String("server", o.server.Address().String()),
			logger.String("key", key.Short()))
		return
	}

	kind, changed := domain.DetectTransition(prev, o.next)
	if !changed {
		return
	}
	res.Transitions = append(res.Transitions, domain.Transition{
		Key:      key,
		Kind:     kind,
		Previous: prev,
		Current:  o.next,
	})
	e.metrics.Transition(kind)
	e.logger.Info("server reachability changed",
		logger.String("server", o.server.Address().String()),
		logger.String("key", key.Short()),
		logger.Stringer("transition", kind))
}
