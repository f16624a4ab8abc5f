package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mccapes-reconciler/config"
	"mccapes-reconciler/internal/adapter/chain/blockcypher"
	"mccapes-reconciler/internal/adapter/chain/helius"
	"mccapes-reconciler/internal/adapter/email"
	httpHandler "mccapes-reconciler/internal/adapter/http/handler"
	"mccapes-reconciler/internal/adapter/metrics"
	pgStorage "mccapes-reconciler/internal/adapter/storage/postgres"
	redisStorage "mccapes-reconciler/internal/adapter/storage/redis"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/internal/service"
	"mccapes-reconciler/internal/worker"
	"mccapes-reconciler/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("MCR_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// `api token <subject>` prints an operator JWT and exits.
	if len(os.Args) == 3 && os.Args[1] == "token" {
		os.Exit(issueToken(cfg, os.Args[2]))
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting MCCapes reconciler")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	if cfg.Database.AutoMigrate {
		if err := pgStorage.RunMigrations(cfg.Database, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	orderRepo := pgStorage.NewOrderRepo(pool)
	productRepo := pgStorage.NewProductRepo(pool)
	couponRepo := pgStorage.NewCouponRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	emailLogRepo := pgStorage.NewEmailLogRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Provider cooldowns are process-local unless several instances share a key.
	var cooldowns ports.CooldownStore = service.NewMemoryCooldownStore()
	if cfg.Providers.CooldownBackend == "redis" {
		cooldowns = redisStorage.NewCooldownStore(rdb)
	}
	guard := service.NewProviderRateLimiter(cooldowns, cfg.Providers.DefaultCooldown, log)

	// Chain providers
	utxoClient, err := blockcypher.New(blockcypher.Config{
		BaseURL: cfg.Providers.BlockCypher.BaseURL,
		Token:   cfg.Providers.BlockCypher.Token,
		TxLimit: cfg.Providers.BlockCypher.TxLimit,
		Timeout: cfg.Providers.HTTPTimeout,
	}, nil, guard, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize BlockCypher client")
	}
	solanaClient, err := helius.New(helius.Config{
		RPCURL:         cfg.Providers.Helius.RPCURL,
		APIKey:         cfg.Providers.Helius.APIKey,
		SignatureLimit: cfg.Providers.Helius.SignatureLimit,
		Timeout:        cfg.Providers.HTTPTimeout,
	}, nil, guard, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Helius client")
	}

	sender, err := email.NewSendGridSender(email.Config{
		APIKey:      cfg.Email.SendGridAPIKey,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
	}, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize SendGrid sender")
	}

	promMetrics := metrics.NewPrometheus()

	// Initialize business services
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(auditRepo, log)
	notificationSvc := service.NewNotificationService(orderRepo, emailLogRepo, sender, service.NotificationOptions{
		Currency:       cfg.Email.Currency,
		StorefrontURL:  cfg.Email.StorefrontURL,
		RetryIntervals: cfg.Email.RetryIntervals,
	}, log)
	settlementSvc := service.NewSettlementService(
		walletRepo,
		orderRepo,
		productRepo,
		couponRepo,
		transactor,
		notificationSvc,
		auditSvc,
		promMetrics,
		log,
	)
	minConfirmations := service.MinConfirmationsByChain(cfg.Reconciler.MinConfirmations)
	reconcilerSvc := service.NewReconcilerService(
		walletRepo,
		utxoClient,
		solanaClient,
		guard,
		settlementSvc,
		promMetrics,
		service.ReconcilerOptions{
			BatchSize:        cfg.Reconciler.BatchSize,
			CallSpacing:      cfg.Reconciler.CallSpacing,
			MinConfirmations: minConfirmations,
		},
		log,
	)
	expirySvc := service.NewExpiryService(orderRepo, auditSvc, promMetrics, cfg.Expiry.PendingTimeout, log)
	ingestSvc := service.NewWebhookIngestService(
		walletRepo,
		redisStorage.NewDedupStore(rdb),
		settlementSvc,
		minConfirmations,
		cfg.Webhook.DedupTTL,
		log,
	)
	reportingSvc := service.NewReportingService(walletRepo, guard)

	// Background jobs
	opts := worker.Options{BatchSize: cfg.Reconciler.BatchSize}
	if cfg.Reconciler.Enabled {
		opts.ReconcileInterval = cfg.Reconciler.Interval
		opts.ReconcileTimeout = cfg.Reconciler.RunTimeout
	}
	if cfg.Expiry.Enabled {
		opts.ExpiryInterval = cfg.Expiry.Interval
	}
	scheduler, err := worker.NewScheduler(reconcilerSvc, expirySvc, opts, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	// Load OpenAPI document for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI document loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI document not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Mode:             cfg.Server.Mode,
		WebhookSecret:    cfg.Webhook.Secret,
		DefaultBatchSize: cfg.Reconciler.BatchSize,
		IngestSvc:        ingestSvc,
		SettlementSvc:    settlementSvc,
		ReconcilerSvc:    reconcilerSvc,
		ExpirySvc:        expirySvc,
		ReportingSvc:     reportingSvc,
		TokenSvc:         tokenSvc,
		AuditSvc:         auditSvc,
		RateLimitStore:   redisStorage.NewRateLimitStore(rdb),
		HealthCheckers:   []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		Metrics:          promMetrics.Handler(),
		Logger:           log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler.Start()
	log.Info().
		Dur("reconcile_interval", opts.ReconcileInterval).
		Dur("expiry_interval", opts.ExpiryInterval).
		Msg("Scheduler started")

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := scheduler.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Scheduler shutdown failed")
	}

	log.Info().Msg("Server exited")
}

func issueToken(cfg *config.Config, subject string) int {
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "jwt.secret is not set")
		return 1
	}
	token, expiry, err := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer).Generate(subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		return 1
	}
	fmt.Printf("%s\n# expires %s\n", token, expiry.UTC().Format(time.RFC3339))
	return 0
}
