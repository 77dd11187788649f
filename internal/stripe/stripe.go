package stripe

import (
	"context"
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/bookshelf/internal/intake"
)

type Config struct {
	SecretKey      string
	WebhookSecret  string
	MonthlyPriceID string
	YearlyPriceID  string
	SuccessURL     string
	CancelURL      string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// CreateCheckoutSession starts a one-off payment for the plan's price and
// returns the hosted checkout URL. The account id travels as the client
// reference so the completion can be tied back to it.
func (c *Client) CreateCheckoutSession(ctx context.Context, accountID, planID, email string) (string, error) {
	priceID, err := c.PriceIDForPlan(planID)
	if err != nil {
		return "", err
	}
	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(accountID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata("plan", planID)

	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// GetCheckoutSession fetches a session for confirmation. It returns nil, nil
// when Stripe does not know the id.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*intake.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}
	sess, err := checksession.Get(id, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return SessionFromStripe(sess), nil
}

// SessionFromStripe reduces a Stripe checkout session to what intake needs.
func SessionFromStripe(sess *stripe.CheckoutSession) *intake.CheckoutSession {
	cs := &intake.CheckoutSession{
		ID:                sess.ID,
		Paid:              sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:       sess.AmountTotal,
		ClientReferenceID: sess.ClientReferenceID,
		PlanID:            sess.Metadata["plan"],
	}
	if sess.CustomerDetails != nil {
		cs.CustomerEmail = sess.CustomerDetails.Email
	}
	if cs.CustomerEmail == "" {
		cs.CustomerEmail = sess.CustomerEmail
	}
	return cs
}

// PriceIDForPlan returns the Stripe price ID configured for the plan.
func (c *Client) PriceIDForPlan(planID string) (string, error) {
	var id string
	switch planID {
	case "monthly":
		id = c.cfg.MonthlyPriceID
	case "yearly":
		id = c.cfg.YearlyPriceID
	}
	if id == "" {
		return "", fmt.Errorf("no stripe price configured for plan %q", planID)
	}
	return id, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
}
