// Command gatekeeper runs the authorization core: session resolution,
// role aggregation, the organizer verification workflow, and disclosure of
// private verification documents.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pennygo/gatekeeper/pkg/accounts"
	"github.com/pennygo/gatekeeper/pkg/api"
	"github.com/pennygo/gatekeeper/pkg/captcha"
	"github.com/pennygo/gatekeeper/pkg/config"
	"github.com/pennygo/gatekeeper/pkg/credstore"
	"github.com/pennygo/gatekeeper/pkg/disclosure"
	"github.com/pennygo/gatekeeper/pkg/identity"
	"github.com/pennygo/gatekeeper/pkg/middleware"
	"github.com/pennygo/gatekeeper/pkg/observability"
	"github.com/pennygo/gatekeeper/pkg/profiles"
	"github.com/pennygo/gatekeeper/pkg/roles"
	"github.com/pennygo/gatekeeper/pkg/storage/postgres"
	"github.com/pennygo/gatekeeper/pkg/verification"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting gatekeeper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	tracerProvider, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Database
	db, err := postgres.Connect(postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		logger.WithError(err).Error("failed to apply schema")
		os.Exit(1)
	}
	postgres.CollectPoolMetrics(ctx, db, 15*time.Second, func(active, idle int) {
		metrics.DBConnectionsActive.Set(float64(active))
		metrics.DBConnectionsIdle.Set(float64(idle))
	})

	// Redis (rate limiting). Optional: without it, credential mutations run
	// unlimited rather than not at all.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, rate limiting disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// Document storage
	docStore, err := disclosure.NewS3Store(ctx, disclosure.S3Config{
		Endpoint:        cfg.Documents.S3Endpoint,
		Region:          cfg.Documents.S3Region,
		Bucket:          cfg.Documents.S3Bucket,
		AccessKeyID:     cfg.Documents.S3AccessKey,
		SecretAccessKey: cfg.Documents.S3SecretKey,
		UsePathStyle:    cfg.Documents.S3UsePathStyle,
	})
	if err != nil {
		logger.WithError(err).Error("failed to initialize document storage")
		os.Exit(1)
	}
	broker := disclosure.NewBroker(docStore, cfg.Documents.DisclosureTTL, logger).WithMetrics(metrics)

	// Credential provider and captcha
	provider := credstore.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.ServiceKey)

	captchaOpts := []captcha.Option{}
	if cfg.Captcha.VerifyURL != "" {
		captchaOpts = append(captchaOpts, captcha.WithVerifyURL(cfg.Captcha.VerifyURL))
	}
	verifier, err := captcha.NewVerifier(cfg.Captcha.Secret, logger, captchaOpts...)
	if err != nil {
		logger.WithError(err).Error("failed to initialize captcha verifier")
		os.Exit(1)
	}

	// Stores and services
	roleStore := roles.NewStore(db)
	profileStore := profiles.NewStore(db)
	aggregator := roles.NewAggregator(roleStore, profileStore, logger, metrics)
	resolver := identity.NewResolver(provider, aggregator, profileStore, logger)

	accountSvc := accounts.NewService(provider, verifier, roleStore, profileStore, logger).
		WithSignupRedirect(cfg.Provider.RedirectTarget)

	verificationStore := verification.NewStore(db)
	verificationSvc := verification.NewService(verificationStore, broker, provider, logger, metrics)

	// Reconciler
	reconciler := verification.NewReconciler(verificationStore, roleStore, profileStore, logger, metrics)
	if cfg.Reconcile.Enabled {
		if err := reconciler.Start(cfg.Reconcile.Schedule); err != nil {
			logger.WithError(err).Error("failed to start reconciler")
			os.Exit(1)
		}
		defer reconciler.Stop()
	}

	// HTTP surface
	identityMw := middleware.NewIdentityMiddleware(resolver, logger, metrics)
	serverOpts := []api.ServerOption{}
	if redisClient != nil {
		limiter := middleware.NewRateLimiter(redisClient, middleware.CredentialMutationRateLimitConfig(), "gatekeeper:auth", logger)
		serverOpts = append(serverOpts, api.WithAuthRateLimiter(limiter))
	}
	if cfg.Observability.OTelEnabled {
		serverOpts = append(serverOpts, api.WithTracing())
	}
	server := api.NewServer(accountSvc, verificationSvc, broker, roleStore, identityMw, logger, metrics, serverOpts...)

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthHandler(db, registry, cfg.Observability.MetricsEnabled),
	}

	go func() {
		logger.WithField("addr", appServer.Addr).Info("API server listening")
		if err := appServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			cancel()
		}
	}()
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := appServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown failed")
	}
	if tracerProvider != nil {
		observability.ShutdownTracing(shutdownCtx, tracerProvider, logger)
	}

	logger.Info("gatekeeper stopped")
}

// healthHandler serves liveness, readiness and metrics on the ops port
func healthHandler(db interface {
	PingContext(ctx context.Context) error
}, registry *prometheus.Registry, metricsEnabled bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	if metricsEnabled {
		mux.Handle("/metrics", observability.Handler(registry))
	}

	return mux
}
