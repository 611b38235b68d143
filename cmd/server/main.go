package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/notifyhub/internal/api"
	"github.com/notifyhub/notifyhub/internal/api/handler"
	"github.com/notifyhub/notifyhub/internal/config"
	"github.com/notifyhub/notifyhub/internal/db"
	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/logging"
	"github.com/notifyhub/notifyhub/internal/metrics"
	"github.com/notifyhub/notifyhub/internal/preference"
	"github.com/notifyhub/notifyhub/internal/provider"
	"github.com/notifyhub/notifyhub/internal/queue"
	"github.com/notifyhub/notifyhub/internal/ratelimiter"
	"github.com/notifyhub/notifyhub/internal/realtime"
	"github.com/notifyhub/notifyhub/internal/repository"
	"github.com/notifyhub/notifyhub/internal/service"
	"github.com/notifyhub/notifyhub/internal/worker"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "notifyhub", version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	// ---- storage ----
	stores, store, closeStore, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err), zap.String("backend", cfg.StoreBackend))
	}
	defer closeStore()

	// ---- metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---- realtime ----
	onGauge, onEvent, onDropped := m.RealtimeHooks()
	broadcaster := realtime.NewBroadcaster(realtime.NewRegistry(), logger.Named("realtime"), realtime.Options{
		Hooks: realtime.Hooks{OnGauge: onGauge, OnEvent: onEvent, OnDropped: onDropped},
	})
	gateway := realtime.NewGateway(broadcaster, realtime.GatewayConfig{
		SendBuffer:     cfg.WSSendBuffer,
		AllowedOrigins: cfg.WSAllowedOrigins,
		FrameAuth:      cfg.WSFrameAuth,
	}, logger.Named("gateway"))

	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to reach redis", zap.Error(err))
		}
		relay := realtime.NewRelay(rdb, cfg.RedisChannel, cfg.NodeID, broadcaster.DeliverLocal, logger.Named("relay"))
		broadcaster.SetRelay(relay)
		go func() {
			if err := relay.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("realtime relay stopped", zap.Error(err))
			}
		}()
		logger.Info("realtime relay enabled", zap.String("channel", cfg.RedisChannel), zap.String("node", cfg.NodeID))
	}

	// ---- engine ----
	q := queue.New()
	onCreated, onSuppressed := m.EngineHooks()
	engine := service.NewEngine(
		stores,
		preference.NewResolver(cfg.QuietHoursBypass()),
		q,
		broadcaster,
		logger.Named("engine"),
		service.Options{
			RetryDefaults: cfg.RetryPolicy(),
			DispatchBatch: cfg.DispatchBatchSize,
			Hooks:         service.Hooks{OnCreated: onCreated, OnSuppressed: onSuppressed},
		},
	)

	// ---- workers ----
	webhook := provider.NewWebhookSender(cfg.ProviderBaseURL, cfg.ProviderTimeout)
	sender := provider.NewMux().
		Handle(webhook, domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush).
		Handle(provider.InboxSender{}, domain.ChannelInApp)

	onSent, onRetried, onFailed, onDepths := m.WorkerHooks()
	pool := worker.NewPool(cfg.DeliveryWorkers, q, engine, sender, ratelimiter.New(cfg.RateLimit), logger, worker.MetricHooks{
		OnSent:    onSent,
		OnRetried: onRetried,
		OnFailed:  onFailed,
		OnDepths:  onDepths,
	})
	pool.Start(workerCtx)

	go worker.NewDispatchWorker(engine, q, cfg.DispatchInterval, cfg.DispatchStale, onDepths, logger).Run(workerCtx)
	go worker.NewSchedulerWorker(engine, cfg.SchedulerInterval, cfg.DispatchBatchSize, logger).Run(workerCtx)
	go worker.NewSweeperWorker(broadcaster, cfg.WSCleanupInterval, cfg.WSInactivityTimeout, logger).Run(workerCtx)

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Engine:         engine,
		Lanes:          q,
		Broadcaster:    broadcaster,
		Gateway:        gateway,
		Store:          store,
		Gatherer:       reg,
		AllowedOrigins: cfg.WSAllowedOrigins,
		Logger:         logger,
	})
	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     router,
		ReadTimeout: cfg.ReadTimeout,
		// No WriteTimeout: /ws connections are long-lived and the gateway
		// sets a per-frame write deadline.
		IdleTimeout: 2 * cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("backend", cfg.StoreBackend),
			zap.Int("workers", cfg.DeliveryWorkers),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancelWorkers()
	pool.Wait()

	if rdb != nil {
		_ = rdb.Close()
	}
	logger.Info("server stopped cleanly")
}

// openStores builds the configured storage backend. The returned pinger is
// nil for the in-memory backend.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.Stores, handler.Pinger, func(), error) {
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		return service.Stores{
			Notifications: repository.NewMemoryNotificationStore(),
			Templates:     repository.NewMemoryTemplateStore(),
			Preferences:   repository.NewMemoryPreferenceStore(),
			Queue:         repository.NewMemoryQueueStore(),
		}, nil, func() {}, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return service.Stores{}, nil, nil, err
	}
	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		pool.Close()
		return service.Stores{}, nil, nil, err
	}
	logger.Info("database migrations applied")

	return service.Stores{
		Notifications: repository.NewPgNotificationStore(pool),
		Templates:     repository.NewPgTemplateStore(pool),
		Preferences:   repository.NewPgPreferenceStore(pool),
		Queue:         repository.NewPgQueueStore(pool),
	}, pool, pool.Close, nil
}
