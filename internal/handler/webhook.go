package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/bookshelf/internal/entitlement"
	"github.com/dukerupert/bookshelf/internal/intake"
	bookstripe "github.com/dukerupert/bookshelf/internal/stripe"
	"github.com/dukerupert/bookshelf/internal/subscription"
)

// EventVerifier checks a webhook signature and parses the event.
type EventVerifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

type WebhookHandler struct {
	verifier EventVerifier
	engine   *subscription.Engine
	logger   *slog.Logger
}

func NewWebhookHandler(v EventVerifier, e *subscription.Engine, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: v, engine: e, logger: logger}
}

// HandleStripeWebhook applies completed checkouts. Failures worth retrying
// answer 5xx so Stripe redelivers; replays are absorbed by the engine.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	event, err := h.verifier.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		if err := h.handleCheckoutCompleted(r, event); err != nil {
			writeError(w, h.logger, err)
			return
		}
	default:
		h.logger.Debug("webhook event ignored", "type", event.Type)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(r *http.Request, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("webhook: unmarshal checkout session", "event_id", event.ID, "error", err)
		return nil
	}

	req, err := intake.FromCheckoutCompleted(bookstripe.SessionFromStripe(&sess))
	if err != nil {
		// Unpaid async sessions complete later with their own event.
		h.logger.Warn("webhook: checkout not granted", "session_id", sess.ID, "error", err)
		return nil
	}

	if _, err := h.engine.Grant(r.Context(), req); err != nil {
		if retryable(err) {
			return err
		}
		h.logger.Error("webhook: grant rejected", "session_id", sess.ID, "account_id", req.AccountID, "error", err)
	}
	return nil
}

func retryable(err error) bool {
	return errors.Is(err, entitlement.ErrBackendUnavailable) || errors.Is(err, entitlement.ErrConflict)
}
