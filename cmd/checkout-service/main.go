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

	"github.com/fjod/checkout-engine/internal/cache"
	h "github.com/fjod/checkout-engine/internal/http"
	"github.com/fjod/checkout-engine/internal/metrics"
	"github.com/fjod/checkout-engine/internal/payment"
	"github.com/fjod/checkout-engine/internal/publisher"
	"github.com/fjod/checkout-engine/internal/repository"
	"github.com/fjod/checkout-engine/internal/service"
	"github.com/fjod/checkout-engine/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "checkout-service",
		Short:   "Order integrity and checkout engine",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the outbox publisher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.New("checkout-service", cfg.LogLevel)

			repo, err := repository.NewRepository(&cfg.DB)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer repo.Close()

			if err := repo.RunMigrations(&cfg.DB); err != nil {
				return err
			}
			log.Info("database migrations completed")
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *Config) error {
	log := logger.New("checkout-service", cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("checkout-service starting", slog.String("version", Version))

	repo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svcCfg := service.Config{
		DecrementPoint: cfg.DecrementPoint,
		Shipping:       service.FlatShipping{Amount: cfg.ShippingFlat, FreeOver: cfg.FreeShippingOver},
		Tax:            service.FixedTaxRate{Rate: cfg.TaxRate},
		Metrics:        m,
		Logger:         log,
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("redis ping succeeded", slog.String("addr", cfg.RedisAddr))
		svcCfg.Cache = cache.NewRedisCache(redisClient)
	}

	if cfg.PaymentProviderURL != "" {
		svcCfg.Provider = payment.NewHTTPProvider(cfg.PaymentProviderURL, cfg.PaymentAPIKey, cfg.PaymentTimeout, log)
	} else {
		log.Warn("PAYMENT_PROVIDER_URL not set, payment intents are disabled")
	}
	if cfg.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET not set, every payment webhook will be rejected")
	}

	checkoutService := service.NewCheckoutService(repo, svcCfg)
	cartService := service.NewCartService(repo, svcCfg)
	reconciler := service.NewWebhookReconciler(repo, payment.NewVerifier(cfg.WebhookSecret, payment.DefaultTolerance), svcCfg)

	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(repo, log, cfg.KafkaBrokers...)
		defer poller.Close()
		go poller.Run(ctx)
		log.Info("outbox publisher started", slog.Any("brokers", cfg.KafkaBrokers))
	}

	router := h.NewRouter(h.RouterConfig{
		Checkout:       h.NewCheckoutHandler(checkoutService, cfg.RequestTimeout, log),
		Orders:         h.NewOrdersHandler(checkoutService, cfg.RequestTimeout, log),
		Cart:           h.NewCartHandler(cartService, cfg.RequestTimeout, log),
		Webhook:        h.NewWebhookHandler(reconciler, cfg.RequestTimeout, log),
		Metrics:        m,
		Gatherer:       reg,
		Logger:         log,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

func openRepository(cfg *Config, log *slog.Logger) (repository.RepoInterface, error) {
	if cfg.StorageDriver == storageMemory {
		log.Warn("using in-memory storage, data is lost on restart")
		return repository.NewMemoryStore(), nil
	}

	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repo.RunMigrations(&cfg.DB); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed")
	return repo, nil
}
