package main

// @title Career Coach Payments API
// @version 1.0
// @description Premium checkout and asynchronous payment confirmation.

// @host localhost:8001
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudcareercoach/api/config"
	apierrors "github.com/cloudcareercoach/api/pkg/api/errors"
	"github.com/cloudcareercoach/api/pkg/api/handlers"
	custommw "github.com/cloudcareercoach/api/pkg/api/middleware"
	"github.com/cloudcareercoach/api/pkg/billing"
	"github.com/cloudcareercoach/api/pkg/cache"
	"github.com/cloudcareercoach/api/pkg/confirm"
	"github.com/cloudcareercoach/api/pkg/database"
	"github.com/cloudcareercoach/api/pkg/email"
	"github.com/cloudcareercoach/api/pkg/entitlement"
	"github.com/cloudcareercoach/api/pkg/intent"
	"github.com/cloudcareercoach/api/pkg/jobs"
	"github.com/cloudcareercoach/api/pkg/logger"
	"github.com/cloudcareercoach/api/pkg/metrics"
	custommiddleware "github.com/cloudcareercoach/api/pkg/middleware"
	"github.com/cloudcareercoach/api/pkg/payments"
	"github.com/cloudcareercoach/api/pkg/secrets"
	"github.com/cloudcareercoach/api/pkg/session"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	apierrors.SetLogger(log)

	if err := run(cfg, log); err != nil {
		log.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx := context.Background()
	log.Info("configuration loaded", "environment", cfg.APIEnvironment)

	// Credentials may live in AWS Secrets Manager
	secretManager, err := secrets.NewManager(secrets.Config{
		Backend:   cfg.SecretsBackend,
		AWSRegion: cfg.AWSRegion,
		SecretID:  cfg.AWSSecretID,
	}, log)
	if err != nil {
		return err
	}
	if err := secrets.ApplyToConfig(ctx, secretManager, cfg); err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			log.Info("sentry initialized", "environment", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Initialize database with SSL configuration
	db, err := database.NewPostgresClient(ctx, cfg.DatabaseURL, database.DefaultPoolConfig(), &database.SSLConfig{
		Mode:         cfg.DBSSLMode,
		CertPath:     cfg.DBSSLCertPath,
		KeyPath:      cfg.DBSSLKeyPath,
		RootCertPath: cfg.DBSSLRootCertPath,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	// Pending intents live in Redis unless the process runs alone
	var (
		redisClient *cache.Client
		intents     intent.Cache
	)
	switch cfg.IntentStore {
	case "memory":
		memory := intent.NewMemoryCache(cfg.PendingIntentTTL, 10*time.Minute)
		defer memory.Close()
		intents = memory
		log.Warn("pending intents are kept in memory, do not run more than one replica")
	default:
		redisClient, err = cache.NewClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		intents = intent.NewRedisCache(redisClient, cfg.PendingIntentTTL)
	}

	prometheusMetrics := metrics.New()

	// Payment confirmation pipeline
	repo := payments.NewRepository(db)
	processor := billing.NewStripeProcessor(billing.StripeConfig{SecretKey: cfg.StripeSecretKey})

	initiator := billing.NewInitiator(processor, repo, intents, billing.InitiatorConfig{
		FrontendURL:    cfg.FrontendURL,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		OfferPath:      cfg.OfferPath,
	}, log)
	initiator.SetRecorder(prometheusMetrics)

	statusService := billing.NewStatusService(processor, repo, log)

	poller := billing.NewPoller(statusService, billing.PollerConfig{
		Interval:       cfg.PollInterval,
		ResultTTL:      cfg.PollResultTTL,
		AttemptTimeout: 10 * time.Second,
	}, log)
	poller.SetRecorder(prometheusMetrics)

	emailService := email.NewService(cfg.EmailFrom, cfg.EmailFromName, cfg.SendGridAPIKey, log)
	notifier := billing.NewPremiumNotifier(billing.NewEmailServiceAdapter(emailService), cfg.FrontendURL, log)

	store := entitlement.NewStore(db, log)
	store.SetNotifier(notifier)
	store.SetLedger(repo)
	store.SetRecorder(prometheusMetrics)

	paymentsHandler := handlers.NewPaymentsHandler(initiator, statusService, store, intents, confirm.Dependencies{
		Poller:       poller,
		Entitlements: store,
		Intents:      intents,
		Checkout:     initiator,
		Ownership:    statusService,
		Recorder:     prometheusMetrics,
		Logger:       log,
	}, handlers.PaymentsConfig{
		BannerBudget: cfg.PollBudgetBanner,
		PageBudget:   cfg.PollBudgetPage,
		OfferURL:     cfg.OfferURL(),
	}, log)
	paymentsHandler.SetCacheRecorder(prometheusMetrics)

	// Reconciliation safety net for confirmations that never completed in the browser
	reconciler := jobs.NewReconciler(repo, statusService, store, redisClient, jobs.ReconcilerConfig{
		MinAge:    cfg.ReconcileMinAge,
		BatchSize: cfg.ReconcileBatchSize,
	}, log)
	reconciler.SetRecorder(prometheusMetrics)

	cronManager := jobs.NewCronManager(reconciler, log)
	if err := cronManager.SetupJobs(cfg.ReconcileSchedule); err != nil {
		return err
	}
	cronManager.Start()

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	globalRateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	defer globalRateLimiter.Stop()
	statusRateLimiter := custommiddleware.NewRateLimiter(cfg.StatusRateLimitPerMinute, cfg.StatusRateLimitBurst)
	defer statusRateLimiter.Stop()

	sessions := session.NewManager(cfg.SessionCookieName, cfg.SessionCookieSecure || cfg.IsProduction())

	// Global middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency.String()}
			if v.Error != nil {
				args = append(args, "error", v.Error)
			}
			log.Info("request", args...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	// Sentry error tracking middleware (if configured)
	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true, // let the Recover middleware handle the panic afterwards
		}))
	}

	e.Use(prometheusMetrics.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.DefaultSecurityHeadersConfig()))
	e.Use(globalRateLimiter.RateLimitMiddleware())

	e.GET("/health", func(c echo.Context) error {
		reqCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := map[string]any{"status": "healthy", "database": "up"}
		code := http.StatusOK

		if err := db.Ping(reqCtx); err != nil {
			status["status"] = "unhealthy"
			status["database"] = "down"
			code = http.StatusServiceUnavailable
		}
		prometheusMetrics.UpdateDBConnections(float64(db.Stats().InUse))

		if redisClient != nil {
			status["cache"] = "up"
			if err := redisClient.Ping(reqCtx); err != nil {
				status["status"] = "unhealthy"
				status["cache"] = "down"
				code = http.StatusServiceUnavailable
			}
		}

		return c.JSON(code, status)
	})

	// Prometheus metrics endpoint (public)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")
	authenticated := v1.Group("", custommw.JWTMiddleware(cfg.JWTSecret), sessions.Middleware())
	paymentsHandler.Register(authenticated, statusRateLimiter.RateLimitMiddleware())

	// Start server
	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Info("api starting",
		"address", address,
		"poll_interval", cfg.PollInterval.String(),
		"banner_budget", cfg.PollBudgetBanner,
		"page_budget", cfg.PollBudgetPage,
		"reconcile_schedule", cfg.ReconcileSchedule,
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		cronManager.Stop(context.Background())
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cronManager.Stop(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server gracefully stopped")
	return nil
}
