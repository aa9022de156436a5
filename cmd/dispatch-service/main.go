package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/dispatch-service/internal/config"
	"qms/dispatch-service/internal/dispatch"
	"qms/dispatch-service/internal/httpapi"
	"qms/dispatch-service/internal/hub"
	"qms/dispatch-service/internal/logging"
	"qms/dispatch-service/internal/notify"
	"qms/dispatch-service/internal/store"
	"qms/dispatch-service/internal/store/memory"
	"qms/dispatch-service/internal/store/postgres"
	"qms/dispatch-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const serviceName = "dispatch-service"

// backend is what the engine needs from either store.
type backend interface {
	store.TicketStore
	store.Directory
	store.Seeder
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(serviceName, logger)

	var ticketStore backend
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if cfg.DatabaseMigrate {
			if err := postgres.Migrate(pool, logger); err != nil {
				logger.Fatal("db migrate", zap.Error(err))
			}
		}
		ticketStore = postgres.NewStore(pool)
		logger.Info("using postgres store")
	} else {
		ticketStore = memory.NewStore()
		logger.Warn("DB_DSN not set, using in-memory store")
	}

	if cfg.SeedFile != "" {
		seed, err := store.ReadSeed(cfg.SeedFile)
		if err != nil {
			logger.Fatal("read seed", zap.String("path", cfg.SeedFile), zap.Error(err))
		}
		if err := seed.Apply(ctx, ticketStore); err != nil {
			logger.Fatal("apply seed", zap.Error(err))
		}
		logger.Info("seed applied",
			zap.Int("departments", len(seed.Departments)),
			zap.Int("queues", len(seed.Queues)),
			zap.Int("citizens", len(seed.Citizens)),
		)
	}

	groups := hub.New(logger)
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	// With Redis every instance, this one included, receives its group
	// messages through the relay; publishing to the local hub as well would
	// deliver them twice.
	var publisher notify.Publisher = groups
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		publisher = notify.NewRedisPublisher(client, cfg.RedisChannelPrefix)
		go func() {
			if err := hub.Relay(relayCtx, client, cfg.RedisChannelPrefix, groups, logger); err != nil {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
	}

	// Only the webhook is retried; retrying the combined publisher would
	// repeat deliveries that already reached the hub or Redis.
	if cfg.WebhookURL != "" {
		webhook := notify.Retry(notify.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookToken), cfg.WebhookAttempts, cfg.WebhookRetryDelay)
		publisher = notify.Multi(publisher, webhook)
		logger.Info("webhook notifications enabled",
			zap.String("url", cfg.WebhookURL),
			zap.Int("attempts", cfg.WebhookAttempts),
		)
	}

	fanout := notify.NewFanout(publisher, notify.Config{
		Workers: cfg.NotifyWorkers,
		Buffer:  cfg.NotifyBuffer,
		Timeout: cfg.NotifyTimeout,
	}, logger)

	engine := dispatch.NewEngine(ticketStore, ticketStore, fanout, dispatch.Options{
		Location:         cfg.DayLocation,
		NotifyQueueGroup: cfg.NotifyQueueGroup,
		Logger:           logger,
	})

	handler := httpapi.NewHandler(engine, httpapi.Options{
		Hub:            groups,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.RateLimitPerMinute,
		IPBurst:       cfg.RateLimitBurst,
		UserPerMinute: cfg.UserRateLimitPerMinute,
		UserBurst:     cfg.UserRateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(mux)), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("dispatch-service listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	go func() {
		if cfg.NoShowGrace <= 0 || cfg.NoShowInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.NoShowInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			count, err := engine.SweepNoShows(sweepCtx, cfg.NoShowGrace, cfg.NoShowBatchSize)
			cancel()
			if err != nil {
				logger.Warn("no-show sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Info("no-show sweep", zap.Int("tickets", count))
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	fanout.Close()
	stopRelay()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown error", zap.Error(err))
	}
}
