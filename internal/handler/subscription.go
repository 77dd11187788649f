package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/bookshelf/internal/access"
	"github.com/dukerupert/bookshelf/internal/auth"
	"github.com/dukerupert/bookshelf/internal/entitlement"
	"github.com/dukerupert/bookshelf/internal/intake"
	"github.com/dukerupert/bookshelf/internal/subscription"
)

// CheckoutStarter opens a hosted payment page for a plan.
type CheckoutStarter interface {
	CreateCheckoutSession(ctx context.Context, accountID, planID, email string) (string, error)
}

type SubscriptionHandler struct {
	engine   *subscription.Engine
	access   *access.Service
	gateway  *intake.Gateway
	checkout CheckoutStarter
	logger   *slog.Logger
}

func NewSubscriptionHandler(e *subscription.Engine, a *access.Service, g *intake.Gateway, cs CheckoutStarter, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{engine: e, access: a, gateway: g, checkout: cs, logger: logger}
}

type subscriptionResponse struct {
	Subscription   *entitlement.Snapshot       `json:"subscription"`
	PaymentHistory []entitlement.PaymentRecord `json:"payment_history"`
}

// Get returns the caller's entitlement and payment history.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ent, err := h.engine.Entitlement(r.Context(), auth.AccountID(r.Context()))
	if errors.Is(err, entitlement.ErrNotFound) {
		writeJSON(w, http.StatusOK, subscriptionResponse{PaymentHistory: []entitlement.PaymentRecord{}})
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionResponse(ent, h.engine.Now()))
}

func (h *SubscriptionHandler) Access(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	writeJSON(w, http.StatusOK, h.access.ForPrincipal(r.Context(), principal(ac)))
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

func (h *SubscriptionHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := entitlement.LookupPlan(req.Plan); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if h.checkout == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "card payments are not configured"})
		return
	}

	url, err := h.checkout.CreateCheckoutSession(r.Context(), auth.AccountID(r.Context()), req.Plan, "")
	if err != nil {
		h.logger.Error("create checkout session", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "could not start checkout"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type confirmRequest struct {
	Plan      string `json:"plan"`
	SessionID string `json:"session_id"`
}

// ConfirmCheckout grants after the gateway confirms the session was paid.
func (h *SubscriptionHandler) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grant, err := h.gateway.Confirm(r.Context(), intake.GatewayConfirmation{
		AccountID: auth.AccountID(r.Context()),
		PlanID:    req.Plan,
		SessionID: req.SessionID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.grant(w, r, grant)
}

type bankTransferRequest struct {
	Plan           string `json:"plan"`
	Amount         int64  `json:"amount"`
	TransactionRef string `json:"transaction_ref"`
	BankName       string `json:"bank_name"`
}

func (h *SubscriptionHandler) BankTransfer(w http.ResponseWriter, r *http.Request) {
	var req bankTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grant, err := intake.BankTransfer{}.Claim(intake.BankTransferClaim{
		AccountID:      auth.AccountID(r.Context()),
		PlanID:         req.Plan,
		Amount:         req.Amount,
		TransactionRef: req.TransactionRef,
		BankName:       req.BankName,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.grant(w, r, grant)
}

func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Cancel(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *SubscriptionHandler) grant(w http.ResponseWriter, r *http.Request, req entitlement.GrantRequest) {
	snap, err := h.engine.Grant(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func newSubscriptionResponse(ent *entitlement.Entitlement, now time.Time) subscriptionResponse {
	snap := ent.Snapshot(now)
	history := ent.PaymentHistory
	if history == nil {
		history = []entitlement.PaymentRecord{}
	}
	return subscriptionResponse{Subscription: &snap, PaymentHistory: history}
}

func principal(ac auth.AuthContext) access.Principal {
	return access.Principal{AccountID: ac.AccountID, Role: access.Role(ac.Role)}
}
