package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/bookshelf/internal/access"
	"github.com/dukerupert/bookshelf/internal/handler"
	"github.com/dukerupert/bookshelf/internal/intake"
	"github.com/dukerupert/bookshelf/internal/middleware"
	"github.com/dukerupert/bookshelf/internal/store"
	bookstripe "github.com/dukerupert/bookshelf/internal/stripe"
	"github.com/dukerupert/bookshelf/internal/subscription"
)

type Config struct {
	Backend  store.Backend
	Engine   *subscription.Engine
	Access   *access.Service
	Verifier middleware.TokenVerifier
	// Stripe is nil when card payments are not configured; the checkout and
	// webhook routes are then not registered.
	Stripe         *bookstripe.Client
	GatewayTimeout time.Duration
	TestMode       bool
	Registry       *prometheus.Registry
}

type Server struct {
	cfg           Config
	logger        *slog.Logger
	subscriptionH *handler.SubscriptionHandler
	accessH       *handler.AccessHandler
	adminH        *handler.AdminHandler
	webhookH      *handler.WebhookHandler
	healthH       *handler.HealthHandler
	rateLimiter   *middleware.RateLimiter
}

func New(cfg Config, logger *slog.Logger) *Server {
	var gateway *intake.Gateway
	var checkout handler.CheckoutStarter
	var webhookH *handler.WebhookHandler
	if cfg.Stripe != nil {
		gateway = intake.NewGateway(cfg.Stripe, cfg.GatewayTimeout)
		checkout = cfg.Stripe
		webhookH = handler.NewWebhookHandler(cfg.Stripe, cfg.Engine, logger.With("component", "webhook"))
	}

	return &Server{
		cfg:           cfg,
		logger:        logger,
		subscriptionH: handler.NewSubscriptionHandler(cfg.Engine, cfg.Access, gateway, checkout, logger.With("component", "subscription")),
		accessH:       handler.NewAccessHandler(cfg.Access),
		adminH:        handler.NewAdminHandler(cfg.Engine, intake.Admin{TestMode: cfg.TestMode}, logger.With("component", "admin")),
		webhookH:      webhookH,
		healthH:       handler.NewHealthHandler(cfg.Backend),
		rateLimiter:   middleware.NewRateLimiter(),
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", s.healthH.Health)
	if s.cfg.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{}))
	}
	if s.webhookH != nil {
		mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}

	authMw := middleware.RequireAuth(s.cfg.Verifier)
	intakeMw := middleware.RateLimit(s.rateLimiter, middleware.AccountOrIP, 10, time.Minute)
	protected := func(h http.HandlerFunc) http.Handler {
		return authMw(h)
	}
	limited := func(h http.HandlerFunc) http.Handler {
		return authMw(intakeMw(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return authMw(middleware.RequireAdmin(h))
	}

	// Account holder
	mux.Handle("GET /api/subscription", protected(s.subscriptionH.Get))
	mux.Handle("GET /api/subscription/access", protected(s.subscriptionH.Access))
	mux.Handle("POST /api/subscription/bank-transfer", limited(s.subscriptionH.BankTransfer))
	mux.Handle("POST /api/subscription/cancel", protected(s.subscriptionH.Cancel))
	if s.cfg.Stripe != nil {
		mux.Handle("POST /api/subscription/checkout", limited(s.subscriptionH.StartCheckout))
		mux.Handle("POST /api/subscription/checkout/confirm", limited(s.subscriptionH.ConfirmCheckout))
	}
	mux.Handle("GET /api/access/check", protected(s.accessH.Check))

	// Administration
	mux.Handle("POST /api/admin/accounts", admin(s.adminH.RegisterAccount))
	mux.Handle("POST /api/admin/subscriptions/grant", admin(s.adminH.Grant))
	mux.Handle("GET /api/admin/subscriptions/{accountID}", admin(s.adminH.Get))
	mux.Handle("POST /api/admin/subscriptions/{accountID}/cancel", admin(s.adminH.Cancel))

	return middleware.RequestLogger(s.logger)(mux)
}
