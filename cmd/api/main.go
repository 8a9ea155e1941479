package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/barbosaigor/investrack/internal/bus"
	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/internal/handlers"
	"github.com/barbosaigor/investrack/internal/infra/gateway/awesome"
	"github.com/barbosaigor/investrack/internal/infra/gateway/b3"
	"github.com/barbosaigor/investrack/internal/infra/gateway/binance"
	"github.com/barbosaigor/investrack/internal/infra/gateway/brapi"
	"github.com/barbosaigor/investrack/internal/infra/gateway/coingecko"
	"github.com/barbosaigor/investrack/internal/infra/gateway/kucoin"
	"github.com/barbosaigor/investrack/internal/infra/gateway/twelvedata"
	"github.com/barbosaigor/investrack/internal/infra/postgres"
	infraredis "github.com/barbosaigor/investrack/internal/infra/redis"
	"github.com/barbosaigor/investrack/internal/integration"
	"github.com/barbosaigor/investrack/internal/pricing"
	"github.com/barbosaigor/investrack/internal/projection"
	"github.com/barbosaigor/investrack/internal/task"
	"github.com/barbosaigor/investrack/internal/transport/httpapi"
	"github.com/barbosaigor/investrack/internal/transport/httpapi/handler"
	"github.com/barbosaigor/investrack/internal/transport/httpapi/middleware"
	"github.com/barbosaigor/investrack/internal/webhook"
	"github.com/barbosaigor/investrack/pkg/config"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

const priceRefreshCooldown = 10 * time.Minute

func main() {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("Starting Investrack API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	// Initialize database connection pool
	db, err := postgres.NewPool(ctx, postgres.Config{URL: cfg.DatabaseURL})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Initialize Redis client for the conversion-rate cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Redis connection established")

	// Initialize repositories
	assetRepo := postgres.NewAssetRepository(db.Pool)
	metadataRepo := postgres.NewMetadataRepository(db.Pool)
	readModelRepo := postgres.NewReadModelRepository(db.Pool)
	snapshotRepo := postgres.NewSnapshotRepository(db.Pool)
	rateRepo := postgres.NewRateRepository(db.Pool)
	userRepo := postgres.NewUserRepository(db.Pool)
	taskRepo := postgres.NewTaskRepository(db.Pool)
	uowManager := postgres.NewUnitOfWorkManager(db.Pool, log)

	// Conversion-rate cache: local map over Redis over the persistent
	// store, refreshed from the AwesomeAPI quote feed.
	rateProvider := awesome.NewClient(log)
	rateCache := infraredis.NewRateCache(redisClient, rateRepo, rateProvider, log)
	toggles := infraredis.NewToggles(redisClient, log)

	// Initialize message bus, command handlers and read-model projector
	b := bus.New(log)
	commandHandlers := handlers.New(metadataRepo, rateCache, userRepo, log)
	if err := commandHandlers.Register(b); err != nil {
		log.Error("Failed to register command handlers", "error", err)
		os.Exit(1)
	}
	projector := projection.New(assetRepo, metadataRepo, readModelRepo, rateCache, taskRepo, cfg.MonthlySellThresholds(), log)
	projector.Register(b)
	dispatcher := handlers.NewDispatcher(uowManager, b)
	log.Info("Command bus initialized")

	// Price-refresh pipeline: one quote source per (type, currency)
	// bucket.
	refresher := pricing.NewRefresher(metadataRepo, b, priceRefreshCooldown, log)
	brapiClient := brapi.NewClient(cfg.BrAPIKey, log)
	refresher.RegisterSource(domain.AssetTypeStock, money.Real, brapiClient)
	refresher.RegisterSource(domain.AssetTypeFII, money.Real, brapiClient)
	refresher.RegisterSource(domain.AssetTypeStockUSA, money.Dollar, twelvedata.NewClient(cfg.TwelveDataAPIKey, log))
	coinGeckoClient := coingecko.NewClient(cfg.CoinGeckoAPIKey, log)
	refresher.RegisterSource(domain.AssetTypeCrypto, money.Real, coinGeckoClient)
	refresher.RegisterSource(domain.AssetTypeCrypto, money.Dollar, coinGeckoClient)
	log.Info("Price refresher initialized")

	// Initialize exchange integration (requires the credential key)
	var integrationSvc *integration.Service
	if cfg.EncryptionKey != "" {
		secrets, err := integration.NewSecretBox(cfg.EncryptionKey)
		if err != nil {
			log.Error("Failed to initialize credential encryption", "error", err)
			os.Exit(1)
		}
		integrationSvc = integration.NewService(
			userRepo,
			secrets,
			dispatcher,
			taskRepo,
			cfg.CryptosToSkipIntegration,
			log,
			kucoin.NewClient(log),
			binance.NewClient(log, cfg.BinanceSymbols),
			b3.NewClient(log),
		)
		log.Info("Exchange integration initialized",
			"exchanges", []string{"kucoin", "binance", "b3"})
	} else {
		log.Warn("ENCRYPTION_KEY not configured, exchange integration disabled")
	}

	// Register queue-invocable jobs
	jobRegistry := webhook.NewJobRegistry(taskRepo, log)
	registerJobs(jobRegistry, refresher, integrationSvc, readModelRepo, snapshotRepo, rateCache, toggles, log)

	// Webhook ingress: queue-provider signature verification and the
	// payment-provider subscription feed.
	verifier := webhook.NewQStashVerifier(cfg.QStashCurrentSigningKey, cfg.QStashNextSigningKey)
	paymentWebhook := webhook.NewPaymentWebhook(cfg.PaymentWebhookSecret, log)
	webhook.RegisterSubscriptionHandlers(paymentWebhook, dispatcher)

	// Initialize HTTP handlers
	jwtSvc := middleware.NewJWTService(cfg.JWTSecret)
	assetHandler := handler.NewAssetHandler(readModelRepo, assetRepo, snapshotRepo, dispatcher)
	transactionHandler := handler.NewTransactionHandler(assetRepo, dispatcher)
	incomeHandler := handler.NewIncomeHandler(assetRepo, dispatcher)
	taskHandler := handler.NewTaskHandler(taskRepo)
	priceHandler := handler.NewPriceHandler(refresher)
	webhookHandler := handler.NewWebhookHandler(verifier, jobRegistry, paymentWebhook, cfg.PublicBaseURL, log)
	healthHandler := handler.NewHealthHandler(db)

	// Determine allowed origins for CORS
	allowedOrigins := []string{cfg.FrontendBaseURL}
	if cfg.IsProduction() {
		if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
			allowedOrigins = []string{origins}
		}
	}

	// Create HTTP router
	r := httpapi.NewRouter(httpapi.Config{
		Logger:                 log,
		AllowedOrigins:         allowedOrigins,
		AssetHandler:           assetHandler,
		TransactionHandler:     transactionHandler,
		IncomeHandler:          incomeHandler,
		TaskHandler:            taskHandler,
		PriceHandler:           priceHandler,
		WebhookHandler:         webhookHandler,
		HealthHandler:          healthHandler,
		JWTMiddleware:          middleware.JWTMiddleware(jwtSvc),
		SubscriptionMiddleware: middleware.RequireSubscription(userRepo, log),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}

// registerJobs binds every queue job. Exchange syncs manage their own
// task lifecycle; the simpler jobs get the standard tracked wrapper.
func registerJobs(
	registry *webhook.JobRegistry,
	refresher *pricing.Refresher,
	integrationSvc *integration.Service,
	readModels domain.ReadModelRepository,
	snapshots domain.SnapshotRepository,
	rates *infraredis.RateCache,
	toggles *infraredis.Toggles,
	log *logger.Logger,
) {
	jobs := []webhook.Job{
		{
			Name: "update_prices",
			Run: registry.Tracked(func(ctx context.Context, _ webhook.JobPayload) (string, error) {
				// Ops kill switch for the provider fan-out.
				if !toggles.Enabled(ctx, "price_refresh", true) {
					return "Atualização de preços desativada", nil
				}
				updated, err := refresher.Refresh(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%d preços atualizados", updated), nil
			}),
		},
		{
			Name: "snapshot_total_invested",
			Run:  registry.Tracked(webhook.SnapshotTotalInvested(readModels, snapshots)),
		},
		{
			Name: "refresh_conversion_rate",
			Run:  registry.Tracked(webhook.RefreshConversionRate(rates)),
		},
	}

	if integrationSvc != nil {
		for _, exchange := range []string{"kucoin", "binance", "b3"} {
			ex := exchange
			jobs = append(jobs, webhook.Job{
				Name:    "sync_" + ex,
				PerUser: true,
				Run: func(ctx context.Context, p webhook.JobPayload, t *task.Task) error {
					return integrationSvc.Sync(ctx, p.UserID, ex, t)
				},
			})
		}
	}

	for _, j := range jobs {
		if err := registry.Register(j); err != nil {
			log.Error("Failed to register job", "job", j.Name, "error", err)
			os.Exit(1)
		}
	}
}
