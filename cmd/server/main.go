// Package main is the entry point for the plumbot WhatsApp server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/ai"
	"github.com/jkindrix/plumbot/internal/classifier"
	"github.com/jkindrix/plumbot/internal/clock"
	"github.com/jkindrix/plumbot/internal/config"
	"github.com/jkindrix/plumbot/internal/conversation"
	"github.com/jkindrix/plumbot/internal/database"
	"github.com/jkindrix/plumbot/internal/dedupe"
	"github.com/jkindrix/plumbot/internal/delivery"
	"github.com/jkindrix/plumbot/internal/domain"
	"github.com/jkindrix/plumbot/internal/followup"
	"github.com/jkindrix/plumbot/internal/generator"
	"github.com/jkindrix/plumbot/internal/handler"
	"github.com/jkindrix/plumbot/internal/logging"
	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/middleware"
	"github.com/jkindrix/plumbot/internal/ratelimit"
	"github.com/jkindrix/plumbot/internal/repository"
	"github.com/jkindrix/plumbot/internal/retry"
	"github.com/jkindrix/plumbot/internal/shutdown"
	"github.com/jkindrix/plumbot/internal/storage"
	"github.com/jkindrix/plumbot/internal/whatsapp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.Server.Environment,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := log.Zap()
	defer func() { _ = logger.Sync() }()

	logger.Info("starting plumbot",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Environment),
	)

	ctx := context.Background()
	clk := clock.New()
	m := metrics.NewMetrics()
	events := metrics.NewBusinessEventLogger(logger)
	coord := shutdown.NewCoordinator(shutdown.DefaultTimeout, logger)

	// Storage
	leads, db, err := openLeadRepository(ctx, cfg, clk, logger)
	if err != nil {
		logger.Fatal("failed to open lead store", zap.Error(err))
	}
	dedupeStore, err := openDedupeStore(ctx, cfg, clk, logger)
	if err != nil {
		logger.Fatal("failed to open dedupe store", zap.Error(err))
	}
	media, err := openMediaStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open media store", zap.Error(err))
	}

	// Outbound clients
	wa := whatsapp.New(&cfg.WhatsApp, logger,
		whatsapp.WithMetrics(m),
		whatsapp.WithRetrier(retry.New(retry.Config{MaxAttempts: cfg.Delivery.SendAttempts}, logger)),
	)
	claude := ai.NewClaudeClient(&cfg.Anthropic, logger,
		ai.WithMetrics(m),
		ai.WithLimiter(ratelimit.NewModelLimiter(ratelimit.ModelLimiterConfig{
			MaxCallsPerMinute: cfg.Anthropic.MaxCallsPerMinute,
			MaxCallsPerHour:   cfg.Anthropic.MaxCallsPerHour,
			MaxCallsPerDay:    cfg.Anthropic.MaxCallsPerDay,
			MaxConcurrent:     cfg.Anthropic.MaxConcurrent,
		}, clk, logger)),
	)
	var completer ai.Completer
	if claude.Configured() {
		completer = claude
	} else {
		logger.Warn("no Anthropic API key configured, using keyword classification and templates only")
	}

	// Conversation
	gen := generator.New(completer, cfg.Business, logger, m)
	scheduler := delivery.NewScheduler(wa, delivery.Config{
		MinDelay: cfg.Delivery.MinDelay,
		MaxDelay: cfg.Delivery.MaxDelay,
	}, logger, delivery.WithMetrics(m))
	bot := conversation.New(conversation.Deps{
		Leads:      leads,
		Classifier: classifier.New(completer, logger, m),
		Generator:  gen,
		Messenger:  wa,
		Reader:     wa,
		Scheduler:  scheduler,
		Store:      media,
		Clock:      clk,
		Logger:     logger,
		Metrics:    m,
		Events:     events,
	}, conversation.Config{
		OperatorPhone:  cfg.Operator.PhoneNumber,
		CRMBaseURL:     cfg.Operator.CRMBaseURL,
		PortfolioURLs:  cfg.Business.PortfolioURLs,
		DebounceWindow: cfg.Delivery.DebounceWindow,
	})
	dispatcher := conversation.NewDispatcher(bot, conversation.DefaultHandleTimeout, logger)

	// Follow-ups
	engine := followup.NewEngine(followup.Deps{
		Leads:     leads,
		Generator: gen,
		Messenger: wa,
		Clock:     clk,
		Logger:    logger,
		Metrics:   m,
		Events:    events,
	}, followup.Config{
		BatchLimit:  cfg.Followup.BatchLimit,
		Concurrency: cfg.Followup.Concurrency,
		Location:    cfg.Followup.Location(),
	})
	runner := followup.NewRunner(engine, cfg.Followup.Interval, logger)
	if cfg.Followup.Enabled {
		if err := runner.Start(ctx); err != nil {
			logger.Fatal("failed to start follow-up runner", zap.Error(err))
		}
	} else {
		logger.Info("automatic follow-ups disabled")
	}

	// HTTP
	health := handler.HealthHandlerConfig{
		AI:       claude,
		WhatsApp: wa,
		Gate:     coord,
		Version:  version,
		Logger:   logger,
	}
	if db != nil {
		health.Database = db
	}
	if p, ok := dedupeStore.(handler.Pinger); ok {
		health.Cache = p
	}

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	apiLimiter := middleware.NewRateLimiter(cfg.Admin.RateLimit, cfg.Admin.RateWindow, clk, logger)
	go apiLimiter.Run(limiterCtx)

	routes := handler.RouterConfig{
		Webhook: handler.NewWebhookHandler(handler.WebhookHandlerConfig{
			VerifyToken: cfg.WhatsApp.VerifyToken,
			AppSecret:   cfg.WhatsApp.AppSecret,
			Dedupe:      dedupeStore,
			Dispatcher:  dispatcher,
			Logger:      logger,
			Metrics:     m,
		}),
		Leads: handler.NewLeadHandler(handler.LeadHandlerConfig{
			Leads:     leads,
			Replier:   bot,
			Followups: engine,
			Events:    events,
			Logger:    logger,
		}),
		Health:      handler.NewHealthHandler(health),
		LogLevel:    log,
		AdminToken:  cfg.Admin.Token,
		RateLimiter: apiLimiter,
		Metrics:     m,
		Logger:      logger,
	}
	if local, ok := media.(*storage.LocalStore); ok {
		routes.Media = local.Handler()
	}
	if cfg.WhatsApp.AppSecret == "" {
		logger.Warn("WHATSAPP_APP_SECRET not set, webhook signatures are not verified")
	}
	if cfg.Admin.Token == "" {
		logger.Warn("ADMIN_TOKEN not set, staff API disabled")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(routes),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Shutdown order: no new webhooks, no new sends, deliver what is queued,
	// then close the stores.
	coord.RegisterFunc(shutdown.PhaseIngress, "http-server", server.Shutdown)
	coord.RegisterFunc(shutdown.PhaseWorkers, "dispatcher", dispatcher.Stop)
	coord.RegisterFunc(shutdown.PhaseWorkers, "followup-runner", runner.Stop)
	coord.RegisterFunc(shutdown.PhaseDelivery, "delivery", func(ctx context.Context) error {
		// Pending media acks go to the scheduler, so flush before stopping it.
		bot.Debouncer().Flush()
		return scheduler.Stop(ctx)
	})
	coord.RegisterFunc(shutdown.PhaseCleanup, "rate-limiter", func(context.Context) error {
		stopLimiter()
		return nil
	})
	if db != nil {
		coord.RegisterFunc(shutdown.PhaseCleanup, "database", func(context.Context) error {
			db.Close()
			return nil
		})
	}
	if c, ok := dedupeStore.(interface{ Close() error }); ok {
		coord.RegisterFunc(shutdown.PhaseCleanup, "dedupe", func(context.Context) error { return c.Close() })
	}
	if c, ok := media.(interface{ Close() error }); ok {
		coord.RegisterFunc(shutdown.PhaseCleanup, "media-store", func(context.Context) error { return c.Close() })
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("received shutdown signal")

	if err := coord.Shutdown(ctx); err != nil {
		logger.Error("shutdown completed with errors", zap.Error(err))
	}
}

// openLeadRepository returns the Postgres repository, or the in-process one
// when the driver is "memory". db is nil for the memory driver.
func openLeadRepository(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *zap.Logger) (domain.LeadRepository, *database.DB, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory lead store, leads are lost on restart")
		return repository.NewMemoryLeadRepository(clk), nil, nil
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.NewMigrator(db.Pool, logger).Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return repository.NewLeadRepository(db.Pool, clk), db, nil
}

// openDedupeStore returns the Redis store when an address is configured.
func openDedupeStore(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *zap.Logger) (handler.Claimer, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("no Redis address configured, deduplicating in process")
		return dedupe.NewMemoryStore(cfg.Redis.DedupeTTL, clk), nil
	}
	store, err := dedupe.NewRedisStore(ctx, dedupe.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.DedupeTTL,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("deduplicating with Redis", zap.String("addr", cfg.Redis.Addr))
	return store, nil
}

// openMediaStore returns the configured plan upload store.
func openMediaStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Media.Backend {
	case "gcs":
		return storage.NewGCSStore(ctx, cfg.Media.GCSBucket, cfg.Media.BaseURL)
	case "local", "":
		dir, err := filepath.Abs(cfg.Media.Dir)
		if err != nil {
			return nil, err
		}
		return storage.NewLocalStore(dir, cfg.Media.BaseURL)
	default:
		return nil, fmt.Errorf("unknown media backend %q", cfg.Media.Backend)
	}
}
