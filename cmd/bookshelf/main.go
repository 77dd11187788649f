package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dukerupert/bookshelf/internal/access"
	"github.com/dukerupert/bookshelf/internal/auth"
	"github.com/dukerupert/bookshelf/internal/config"
	"github.com/dukerupert/bookshelf/internal/email"
	"github.com/dukerupert/bookshelf/internal/logging"
	"github.com/dukerupert/bookshelf/internal/metrics"
	"github.com/dukerupert/bookshelf/internal/server"
	"github.com/dukerupert/bookshelf/internal/store"
	bookstripe "github.com/dukerupert/bookshelf/internal/stripe"
	"github.com/dukerupert/bookshelf/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	selector := &store.Selector{
		Fallback: func(ctx context.Context) (store.Backend, error) {
			db, err := store.OpenSQLite(cfg.FallbackDBPath)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
		ProbeTimeout: cfg.StorageProbeTimeout,
		Logger:       logger.With("component", "store"),
	}
	if cfg.DatabaseURL != "" {
		selector.Primary = func(ctx context.Context) (store.Backend, error) {
			db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			return db, nil
		}
	}
	backend := selector.Select(context.Background())
	defer backend.Close()
	m.BackendSelected(backend.Name())

	opts := subscription.Options{
		MaxAttempts:       cfg.GrantMaxAttempts,
		NotifyTimeout:     cfg.NotifyTimeout,
		AllowPlaceholders: cfg.TestMode && !cfg.Production(),
		Logger:            logger.With("component", "engine"),
		Metrics:           m,
	}
	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	if emailClient.Configured() {
		opts.Notifier = emailClient
	} else {
		slog.Warn("postmark not configured, grant receipts disabled")
	}
	engine := subscription.New(backend, opts)

	var stripeClient *bookstripe.Client
	if cfg.StripeSecretKey != "" {
		stripeClient = bookstripe.NewClient(bookstripe.Config{
			SecretKey:      cfg.StripeSecretKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
			MonthlyPriceID: cfg.StripeMonthlyPriceID,
			YearlyPriceID:  cfg.StripeYearlyPriceID,
			SuccessURL:     cfg.BaseURL + "/account/subscription?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:      cfg.BaseURL + "/pricing",
		})
	} else {
		slog.Warn("stripe not configured, card checkout disabled")
	}

	srv := server.New(server.Config{
		Backend:        backend,
		Engine:         engine,
		Access:         access.NewService(backend, nil, logger.With("component", "access"), m),
		Verifier:       auth.NewVerifier(cfg.JWTSecret),
		Stripe:         stripeClient,
		GatewayTimeout: cfg.GatewayTimeout,
		TestMode:       cfg.TestMode,
		Registry:       registry,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := srv.RateLimiter().Cleanup(); n > 0 {
					slog.Debug("rate limiter keys evicted", "count", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("bookshelf subscriptions starting", "addr", httpServer.Addr, "backend", backend.Name(), "test_mode", cfg.TestMode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
