package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/mcwatch/internal/logger"
	"github.com/MrSnakeDoc/mcwatch/internal/poller"
)

// Ticker runs one poll tick.
type Ticker interface {
	Tick(ctx context.Context) (*poller.TickResult, error)
}

// TickHandler receives the result of every completed tick.
type TickHandler func(ctx context.Context, res *poller.TickResult)

// PollScheduler fires a tick on every interval and on manual triggers.
// Ticks run one at a time on the scheduler goroutine; a trigger that
// arrives while a tick runs is coalesced into the next one.
type PollScheduler struct {
	ticker        Ticker
	onTick        TickHandler
	logger        logger.Logger
	interval      time.Duration
	manualTrigger chan struct{}
	stopCh        chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	started       atomic.Bool
}

// NewPollScheduler creates a scheduler. manualTrigger may be nil.
func NewPollScheduler(
	ticker Ticker,
	onTick TickHandler,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *PollScheduler {
	return &PollScheduler{
		ticker:        ticker,
		onTick:        onTick,
		logger:        log,
		interval:      interval,
		manualTrigger: manualTrigger,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs a first tick right away, then polls until Stop or ctx ends.
func (ps *PollScheduler) Start(ctx context.Context) {
	if !ps.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(ps.done)

		ps.run(ctx)

		t := time.NewTicker(ps.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				ps.run(ctx)
			case <-ps.manualTrigger:
				ps.logger.Info("manual poll triggered")
				ps.run(ctx)
			case <-ps.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and waits for the running tick, if any, to finish
// applying its results.
func (ps *PollScheduler) Stop() {
	ps.stopOnce.Do(func() { close(ps.stopCh) })
	if ps.started.Load() {
		<-ps.done
	}
}

func (ps *PollScheduler) run(ctx context.Context) {
	res, err := ps.ticker.Tick(ctx)
	if err != nil {
		if errors.Is(err, poller.ErrTickInProgress) {
			ps.logger.Warn("skipping poll tick, previous one still running")
			return
		}
		ps.logger.Error("poll tick failed", logger.Error(err))
		return
	}
	if ps.onTick != nil {
		ps.onTick(ctx, res)
	}
}

// Trigger requests an immediate tick without blocking. It reports false
// when a request is already pending.
func Trigger(ch chan struct{}) bool {
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}
