package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/mcwatch/internal/config"
	"github.com/MrSnakeDoc/mcwatch/internal/delivery"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
	"github.com/MrSnakeDoc/mcwatch/internal/metrics"
	"github.com/MrSnakeDoc/mcwatch/internal/monitor"
	"github.com/MrSnakeDoc/mcwatch/internal/poller"
	"github.com/MrSnakeDoc/mcwatch/internal/probe"
	"github.com/MrSnakeDoc/mcwatch/internal/redis"
	"github.com/MrSnakeDoc/mcwatch/internal/scheduler"
	"github.com/MrSnakeDoc/mcwatch/internal/settings"
	filestore "github.com/MrSnakeDoc/mcwatch/internal/store/file"
	redisstore "github.com/MrSnakeDoc/mcwatch/internal/store/redis"
	sqlitestore "github.com/MrSnakeDoc/mcwatch/internal/store/sqlite"
	"github.com/MrSnakeDoc/mcwatch/internal/utils"
	"github.com/MrSnakeDoc/mcwatch/internal/version"
)

type App struct {
	cfg       *config.Config
	logger    logger.Logger
	server    *httpserver.Server
	monitor   *monitor.Monitor
	scheduler *scheduler.PollScheduler
	closers   []io.Closer
}

// New opens the settings backend, loads the registry and builds the
// scheduler and the admin API. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	backend, codec, closer, err := openBackend(ctx, cfg, loggerClient)
	if err != nil {
		return nil, err
	}
	var closers []io.Closer
	if closer != nil {
		closers = append(closers, closer)
	}

	store, err := settings.Open(ctx, backend, codec)
	if err != nil {
		_ = utils.CloseAll(closers...)
		return nil, fmt.Errorf("load settings: %w", err)
	}

	m := metrics.New()
	mon := monitor.New(
		store,
		probe.New(),
		newDeliverer(cfg, loggerClient),
		loggerClient,
		m,
		poller.Options{ProbeTimeout: cfg.ProbeTimeout, Concurrency: cfg.PollConcurrency},
		monitor.Options{ProbeTimeout: cfg.ProbeTimeout, DeliveryTimeout: cfg.DeliveryTimeout},
	)

	// Create manual poll trigger channel
	pollTrigger := make(chan struct{}, 1)
	sched := scheduler.NewPollScheduler(
		mon,
		mon.HandleTick,
		loggerClient.With(logger.String("component", "scheduler")),
		cfg.PollInterval,
		pollTrigger,
	)

	d := deps.Deps{
		Logger:          loggerClient,
		StartTime:       time.Now(),
		Version:         version.Version,
		Commit:          version.Commit,
		BuildDate:       version.BuildDate,
		GoVersion:       version.GoVersion,
		AllowedCIDRS:    cfg.AllowedCIDRS,
		TrustProxy:      cfg.TrustProxy,
		Monitor:         mon,
		Metrics:         m,
		PollTrigger:     pollTrigger,
		QueryRatePerMin: cfg.QueryRatePerMin,
		QueryBurst:      cfg.QueryBurst,
	}

	return &App{
		cfg:       cfg,
		logger:    loggerClient,
		server:    httpserver.New(cfg, loggerClient, d),
		monitor:   mon,
		scheduler: sched,
		closers:   closers,
	}, nil
}

// openBackend picks the settings backend named by cfg.Store. The closer is
// nil for backends holding no connection.
func openBackend(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (settings.Backend, settings.Codec, io.Closer, error) {
	switch cfg.Store {
	case config.StoreRedis:
		client, err := redis.New(ctx, redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		s := redisstore.NewStore(client, cfg.RedisKey)
		fields := []logger.Field{logger.String("key", redisstore.SettingsKey(cfg.RedisKey))}
		if updated, err := s.UpdatedAt(ctx); err != nil {
			loggerClient.Warn("could not read settings timestamp", logger.Error(err))
		} else if !updated.IsZero() {
			fields = append(fields, logger.Time("updated_at", updated))
		}
		loggerClient.Info("settings stored in redis", fields...)
		return s, settings.JSONCodec{}, s, nil

	case config.StoreSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		loggerClient.Info("settings stored in sqlite", logger.String("path", cfg.SQLitePath))
		return s, settings.JSONCodec{}, s, nil

	default:
		s := filestore.New(cfg.StoreFile)
		loggerClient.Info("settings stored in file", logger.String("path", s.Path()))
		return s, settings.CodecFor(s.Path()), nil, nil
	}
}

func newDeliverer(cfg *config.Config, loggerClient logger.Logger) delivery.Deliverer {
	if len(cfg.OneBotEndpoints) == 0 {
		loggerClient.Info("no OneBot endpoint configured, notifications go to the log")
		return delivery.NewLogOnly(loggerClient.With(logger.String("component", "delivery")))
	}
	loggerClient.Info("OneBot delivery enabled", logger.Int("bots", len(cfg.OneBotEndpoints)))
	return delivery.NewOneBot(cfg.OneBotEndpoints, cfg.OneBotToken, cfg.DeliveryTimeout)
}

// Run polls and serves the admin API until SIGINT/SIGTERM or ctx ends.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("🚀 Starting mcwatch %s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("mcwatch %s", version.String())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.scheduler.Start(ctx)
	a.logger.Info("poll scheduler started",
		logger.Duration("interval", a.cfg.PollInterval),
		logger.Int("servers", len(a.monitor.Servers())))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	return a.shutdown(runErr)
}

// shutdown stops polling, drains the admin API and pending deliveries, then
// closes the backend. Every step runs even if an earlier one fails.
func (a *App) shutdown(runErr error) error {
	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	errs := []error{runErr}
	if err := a.server.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop server: %w", err))
	}
	if err := a.monitor.Wait(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("pending notifications: %w", err))
	}
	if err := utils.CloseAll(a.closers...); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}

	err := multierr.Combine(errs...)
	if err == nil {
		a.logger.Info("✅ mcwatch stopped cleanly")
	}
	return err
}
