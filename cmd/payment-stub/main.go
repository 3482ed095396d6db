// Command payment-stub imitates the payment provider for local runs. Intents it accepts are
// settled a moment later through a signed webhook to the checkout service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/checkout-engine/internal/payment"
	"github.com/fjod/checkout-engine/pkg/logger"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	log := logger.New("payment-stub", getEnv("LOG_LEVEL", "info"))

	port := getEnv("PORT", "8090")
	webhookURL := getEnv("WEBHOOK_URL", "http://localhost:8080/api/v1/payments/webhook")
	secret := getEnv("WEBHOOK_SECRET", "")
	delay, err := time.ParseDuration(getEnv("SETTLE_DELAY", "2s"))
	if err != nil {
		log.Error("invalid SETTLE_DELAY", slog.Any("error", err))
		os.Exit(1)
	}
	if secret == "" {
		log.Warn("WEBHOOK_SECRET not set, the checkout service will reject every webhook")
	}

	stub := payment.NewStubProvider(webhookURL, secret, payment.RandomOutcome{}, delay, log)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           stub,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("payment stub listening", slog.String("addr", srv.Addr), slog.String("webhook_url", webhookURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.Any("error", err))
	}
	stub.Wait()
	log.Info("payment stub stopped")
}
