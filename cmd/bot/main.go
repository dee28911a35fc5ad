package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"

	"github.com/Proton-105/divar-watch-bot/internal/bot"
	"github.com/Proton-105/divar-watch-bot/internal/bot/handlers"
	"github.com/Proton-105/divar-watch-bot/internal/bot/menu"
	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	"github.com/Proton-105/divar-watch-bot/internal/database"
	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/flow"
	"github.com/Proton-105/divar-watch-bot/internal/health"
	"github.com/Proton-105/divar-watch-bot/internal/i18n"
	"github.com/Proton-105/divar-watch-bot/internal/idempotency"
	"github.com/Proton-105/divar-watch-bot/internal/jobs"
	jobhandlers "github.com/Proton-105/divar-watch-bot/internal/jobs/handlers"
	"github.com/Proton-105/divar-watch-bot/internal/lifecycle"
	"github.com/Proton-105/divar-watch-bot/internal/middleware"
	"github.com/Proton-105/divar-watch-bot/internal/notify"
	"github.com/Proton-105/divar-watch-bot/internal/provider/divar"
	"github.com/Proton-105/divar-watch-bot/internal/ratelimit"
	"github.com/Proton-105/divar-watch-bot/internal/repository"
	"github.com/Proton-105/divar-watch-bot/internal/session"
	"github.com/Proton-105/divar-watch-bot/internal/subscription"
	"github.com/Proton-105/divar-watch-bot/internal/user"
	"github.com/Proton-105/divar-watch-bot/internal/usercache"
	"github.com/Proton-105/divar-watch-bot/internal/watcher"
	"github.com/Proton-105/divar-watch-bot/pkg/config"
	"github.com/Proton-105/divar-watch-bot/pkg/graceful"
	"github.com/Proton-105/divar-watch-bot/pkg/logger"
	"github.com/Proton-105/divar-watch-bot/pkg/metrics"
	redisclient "github.com/Proton-105/divar-watch-bot/pkg/redis"
)

const (
	userCacheTTL          = time.Hour
	idempotencyCleanEvery = time.Hour
	rateLimitCleanEvery   = 10 * time.Minute
	rateLimitMaxAge       = time.Hour
	metricsPollInterval   = time.Minute
	sentryFlushTimeout    = 2 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("divar watch bot stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(sentryFlushTimeout)
	}

	log, logCloser := logger.New(logger.Options{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		File:       cfg.Logger.File,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Sentry:     cfg.Sentry.Enabled,
	})
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	log.Info("starting divar watch bot",
		slog.String("env", cfg.AppEnv),
		slog.String("bot_mode", cfg.Bot.Mode),
		slog.String("database", cfg.Database.Driver),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("jobs", cfg.Jobs.Enabled),
	)

	shutdown := lifecycle.NewShutdown(log)
	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)
	checker := health.NewChecker(log)

	db, dialect, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	shutdown.RegisterFinal("database", lifecycle.CloseFunc(db.Close))
	checker.AddCheck("database", health.NewDBChecker(db))

	if err := database.NewMigrator(db, dialect, log).Apply(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("apply migrations: %w", err)
	}

	var rdb goredis.UniversalClient
	if cfg.Redis.Enabled {
		client, err := redisclient.New(ctx, cfg.Redis.Client)
		if err != nil {
			_ = db.Close()
			return err
		}
		rdb = client
		shutdown.RegisterFinal("redis", lifecycle.CloseFunc(client.Close))
		checker.AddCheck("redis", health.NewRedisChecker(client))
	}

	cat, err := loadCatalog(cfg.App.CatalogFile)
	if err != nil {
		return err
	}
	texts, err := i18n.Load(cfg.App.Language)
	if err != nil {
		return fmt.Errorf("load translations: %w", err)
	}

	subsRepo := repository.NewSubscriptionRepository(db, dialect, log)
	userRepo := repository.NewUserRepository(db, dialect, log)

	var cache *usercache.Cache
	if rdb != nil {
		cache = usercache.NewCache(rdb, userCacheTTL)
	}
	users := user.NewService(userRepo, cache, log)

	var storage session.Storage = session.NewMemoryStorage()
	if rdb != nil {
		storage = session.NewRedisStorage(rdb, cfg.Session.TTL)
	}
	engine := flow.NewEngine(cat, session.NewManager(storage, log, rdb), log)

	provider, err := divar.NewClient(cfg.Provider, log)
	if err != nil {
		return err
	}
	breaker := apperrors.NewCircuitBreaker(apperrors.BreakerSettings{
		OnStateChange: func(from, to apperrors.State) {
			metrics.SetBreakerOpen("divar", to == apperrors.StateOpen)
			log.Warn("provider circuit breaker changed state",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	checker.AddCheck("provider", health.NewBreakerChecker(breaker))

	tb, err := bot.NewTelebot(cfg.Bot, log)
	if err != nil {
		return err
	}
	checker.AddCheck("telegram", health.NewTelegramChecker(tb))

	menus := menu.NewBuilder(cat, log)
	sink := notify.NewSink(tb, menus, texts, users, log)

	watch := watcher.NewEngine(subsRepo, cat, provider, sink, cfg.Watcher, log,
		watcher.WithCircuitBreaker(breaker),
		watcher.WithErrorHandler(errHandler),
	)

	var scheduler subscription.InitialResultsScheduler = jobs.NewInlineScheduler(watch, log)
	var worker jobs.Worker
	if cfg.Jobs.Enabled {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Client.Addr,
			Password: cfg.Redis.Client.Password,
			DB:       cfg.Redis.Client.DB,
		}
		queue := jobs.NewManager(redisOpt, log)
		shutdown.RegisterFinal("jobs-client", lifecycle.CloseFunc(queue.Close))
		scheduler = jobs.NewQueueScheduler(queue, log)

		worker = jobs.NewWorker(redisOpt, cfg.Jobs.Concurrency, log)
		worker.RegisterHandler(jobs.TaskTypeInitialResults, jobhandlers.NewInitialResultsHandler(watch, log))
	}

	subs := subscription.NewService(subsRepo, cat, scheduler, log)
	h := handlers.New(engine, subs, menus, sink, texts, users, log)

	deps := bot.Deps{
		Handlers: h,
		Texts:    texts,
		Users:    users,
		Errors:   errHandler,
	}
	if rdb != nil {
		deps.Idempotency = idempotency.NewManager(idempotency.NewRedisStore(rdb, log), log)
	}

	var memoryLimiter *ratelimit.MemoryLimiter
	if cfg.RateLimit.Enabled {
		rules, err := ratelimit.NewRules(cfg.RateLimit)
		if err != nil {
			return err
		}
		memoryLimiter = ratelimit.NewMemoryLimiter()
		var limiter ratelimit.Limiter = memoryLimiter
		if rdb != nil {
			limiter = ratelimit.NewFailoverLimiter(ratelimit.NewRedisLimiter(rdb, log), memoryLimiter, log)
		}
		deps.RateLimit = middleware.NewRateLimitMiddleware(limiter, rules, log)
	}

	b, err := bot.New(tb, deps, log)
	if err != nil {
		return err
	}

	probes := lifecycle.NewProbes(checker, log)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", checker.Handler())
	mux.Handle("/livez", lifecycle.ProbeHandler(probes.Liveness))
	mux.Handle("/readyz", lifecycle.ProbeHandler(probes.Readiness))
	server := graceful.NewServer(log, &http.Server{
		Addr:    cfg.Server.Port,
		Handler: logger.Middleware(middleware.New(log)(mux)),
	}, cfg.Server.ShutdownTimeout)

	config.Watch(v, log, func(next *config.Config) {
		watch.SetInterval(next.Watcher.Interval)
	})

	var background conc.WaitGroup
	background.Go(func() { watch.Run(ctx) })
	background.Go(func() { session.NewCleaner(storage, log, cfg.Session.TTL, cfg.Session.CleanupInterval).Run(ctx) })
	background.Go(func() { metrics.NewSubscriptionCollector(subsRepo, metricsPollInterval).Run(ctx) })
	if rdb != nil {
		background.Go(func() {
			idempotency.NewCleaner(rdb, log, idempotencyCleanEvery, middleware.IdempotencyTTL).Run(ctx)
		})
	}
	if memoryLimiter != nil {
		background.Go(func() { ratelimit.NewCleaner(rdb, memoryLimiter, log, rateLimitCleanEvery, rateLimitMaxAge).Run(ctx) })
	}
	background.Go(func() {
		if err := server.ListenAndServe(ctx); err != nil {
			errHandler.Report(ctx, "http server failed", err)
		}
	})

	if worker != nil {
		go func() {
			if err := worker.Run(); err != nil {
				errHandler.Report(ctx, "jobs worker failed", err)
			}
		}()
		shutdown.Register("jobs-worker", lifecycle.StopFunc(worker.Shutdown))
	}

	go b.Start()
	shutdown.Register("telegram", lifecycle.StopFunc(b.Stop))
	shutdown.Register("watcher", func(ctx context.Context) error {
		select {
		case <-watch.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	<-ctx.Done()
	probes.MarkShuttingDown()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = shutdown.Execute(shutdownCtx)
	background.Wait()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("divar watch bot stopped")
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}

	cat, err := catalog.LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("catalog file %s does not exist: %w", path, err)
		}
		return nil, err
	}
	return cat, nil
}
