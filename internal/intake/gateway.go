package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

// CheckoutSession is the gateway's view of a checkout, reduced to the fields
// a grant needs.
type CheckoutSession struct {
	ID                string
	Paid              bool
	AmountTotal       int64
	ClientReferenceID string
	PlanID            string
	CustomerEmail     string
}

// SessionLookup fetches a checkout session by id. A nil session with a nil
// error means the gateway does not know the id.
type SessionLookup interface {
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
}

type Gateway struct {
	lookup  SessionLookup
	timeout time.Duration
}

func NewGateway(lookup SessionLookup, timeout time.Duration) *Gateway {
	return &Gateway{lookup: lookup, timeout: timeout}
}

type GatewayConfirmation struct {
	AccountID string
	PlanID    string
	SessionID string
}

// Confirm verifies a completed checkout with the gateway before producing a
// grant. The lookup runs under a deadline; a slow or failing gateway rejects
// the grant rather than approving it.
func (g *Gateway) Confirm(ctx context.Context, c GatewayConfirmation) (entitlement.GrantRequest, error) {
	if err := required("account_id", c.AccountID); err != nil {
		return entitlement.GrantRequest{}, err
	}
	if err := required("session_id", c.SessionID); err != nil {
		return entitlement.GrantRequest{}, err
	}
	if _, err := entitlement.LookupPlan(c.PlanID); err != nil {
		return entitlement.GrantRequest{}, err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	sess, err := g.lookup.GetCheckoutSession(ctx, c.SessionID)
	if err != nil {
		reason := "gateway lookup failed"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "gateway timed out"
		}
		return entitlement.GrantRequest{}, &entitlement.ChannelError{Channel: entitlement.ChannelGateway, Reason: reason, Err: err}
	}
	if sess == nil {
		return entitlement.GrantRequest{}, reject("unknown checkout session")
	}
	// Sessions this service opens always carry both; one without them was
	// not started for this account and plan.
	if sess.ClientReferenceID != c.AccountID {
		return entitlement.GrantRequest{}, reject("checkout session belongs to another account")
	}
	if sess.PlanID != c.PlanID {
		return entitlement.GrantRequest{}, reject(fmt.Sprintf("checkout session was for plan %q", sess.PlanID))
	}

	return grantFromSession(c.AccountID, c.PlanID, sess)
}

// FromCheckoutCompleted normalizes a signature-verified completion callback.
// The account comes from the session's client reference and the plan from
// its metadata.
func FromCheckoutCompleted(sess *CheckoutSession) (entitlement.GrantRequest, error) {
	if sess == nil {
		return entitlement.GrantRequest{}, reject("empty checkout session")
	}
	if err := required("client_reference_id", sess.ClientReferenceID); err != nil {
		return entitlement.GrantRequest{}, err
	}
	return grantFromSession(sess.ClientReferenceID, sess.PlanID, sess)
}

func grantFromSession(accountID, planID string, sess *CheckoutSession) (entitlement.GrantRequest, error) {
	if !sess.Paid {
		return entitlement.GrantRequest{}, reject("payment not completed")
	}
	req := entitlement.GrantRequest{
		AccountID:    accountID,
		PlanID:       planID,
		Amount:       sess.AmountTotal,
		Channel:      entitlement.ChannelGateway,
		ExternalRef:  sess.ID,
		ContactEmail: sess.CustomerEmail,
	}
	if err := req.Validate(); err != nil {
		return entitlement.GrantRequest{}, err
	}
	return req, nil
}

func reject(reason string) error {
	return &entitlement.ChannelError{Channel: entitlement.ChannelGateway, Reason: reason}
}
