package intake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

type fakeLookup struct {
	sess  *CheckoutSession
	err   error
	delay time.Duration
	calls int
}

func (f *fakeLookup) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.sess, f.err
}

func paidSession() *CheckoutSession {
	return &CheckoutSession{
		ID:                "cs_test_123",
		Paid:              true,
		AmountTotal:       999,
		ClientReferenceID: "acct-1",
		PlanID:            "monthly",
		CustomerEmail:     "reader@example.com",
	}
}

func confirmation() GatewayConfirmation {
	return GatewayConfirmation{AccountID: "acct-1", PlanID: "monthly", SessionID: "cs_test_123"}
}

func TestGatewayConfirm(t *testing.T) {
	g := NewGateway(&fakeLookup{sess: paidSession()}, time.Second)

	req, err := g.Confirm(context.Background(), confirmation())
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if req.Channel != entitlement.ChannelGateway {
		t.Errorf("channel = %q", req.Channel)
	}
	if req.ExternalRef != "cs_test_123" {
		t.Errorf("external ref = %q, want session id", req.ExternalRef)
	}
	if req.Amount != 999 {
		t.Errorf("amount = %d, want 999", req.Amount)
	}
	if req.ContactEmail != "reader@example.com" {
		t.Errorf("email = %q", req.ContactEmail)
	}
}

func TestGatewayConfirmRequiresSessionID(t *testing.T) {
	lookup := &fakeLookup{sess: paidSession()}
	g := NewGateway(lookup, time.Second)

	c := confirmation()
	c.SessionID = ""
	if _, err := g.Confirm(context.Background(), c); !errors.Is(err, entitlement.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if lookup.calls != 0 {
		t.Error("gateway should not be called for invalid input")
	}
}

func TestGatewayConfirmUnknownPlan(t *testing.T) {
	g := NewGateway(&fakeLookup{sess: paidSession()}, time.Second)
	c := confirmation()
	c.PlanID = "weekly"
	if _, err := g.Confirm(context.Background(), c); !errors.Is(err, entitlement.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestGatewayConfirmRejections(t *testing.T) {
	tests := []struct {
		name   string
		mod    func(*CheckoutSession)
		nilSes bool
		reason string
	}{
		{"unpaid", func(s *CheckoutSession) { s.Paid = false }, false, "payment not completed"},
		{"other account", func(s *CheckoutSession) { s.ClientReferenceID = "acct-2" }, false, "another account"},
		{"plan mismatch", func(s *CheckoutSession) { s.PlanID = "yearly" }, false, `plan "yearly"`},
		{"no client reference", func(s *CheckoutSession) { s.ClientReferenceID = "" }, false, "another account"},
		{"no plan metadata", func(s *CheckoutSession) { s.PlanID = "" }, false, `plan ""`},
		{"unknown session", nil, true, "unknown checkout session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := paidSession()
			if tt.mod != nil {
				tt.mod(sess)
			}
			if tt.nilSes {
				sess = nil
			}
			g := NewGateway(&fakeLookup{sess: sess}, time.Second)
			_, err := g.Confirm(context.Background(), confirmation())
			var ce *entitlement.ChannelError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ChannelError", err)
			}
			if !strings.Contains(ce.Reason, tt.reason) {
				t.Errorf("reason = %q, want it to contain %q", ce.Reason, tt.reason)
			}
		})
	}
}

func TestGatewayConfirmTimeoutFailsClosed(t *testing.T) {
	g := NewGateway(&fakeLookup{sess: paidSession(), delay: time.Second}, 20*time.Millisecond)

	_, err := g.Confirm(context.Background(), confirmation())
	var ce *entitlement.ChannelError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ChannelError", err)
	}
	if ce.Reason != "gateway timed out" {
		t.Errorf("reason = %q", ce.Reason)
	}
}

func TestGatewayConfirmLookupError(t *testing.T) {
	g := NewGateway(&fakeLookup{err: errors.New("stripe: 500")}, time.Second)
	if _, err := g.Confirm(context.Background(), confirmation()); !errors.Is(err, entitlement.ErrChannel) {
		t.Errorf("err = %v, want ErrChannel", err)
	}
}

func TestFromCheckoutCompleted(t *testing.T) {
	req, err := FromCheckoutCompleted(paidSession())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.AccountID != "acct-1" || req.PlanID != "monthly" {
		t.Errorf("req = %+v", req)
	}

	sess := paidSession()
	sess.ClientReferenceID = ""
	if _, err := FromCheckoutCompleted(sess); !errors.Is(err, entitlement.ErrValidation) {
		t.Errorf("missing reference: err = %v, want ErrValidation", err)
	}

	sess = paidSession()
	sess.PlanID = ""
	if _, err := FromCheckoutCompleted(sess); !errors.Is(err, entitlement.ErrValidation) {
		t.Errorf("missing plan: err = %v, want ErrValidation", err)
	}
}

func TestBankTransferClaim(t *testing.T) {
	claim := BankTransferClaim{
		AccountID:      "acct-1",
		PlanID:         "yearly",
		Amount:         9900,
		TransactionRef: " TX-42 ",
		BankName:       "Acme Bank",
	}
	req, err := BankTransfer{}.Claim(claim)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if req.ExternalRef != "bank:Acme Bank:TX-42" {
		t.Errorf("external ref = %q", req.ExternalRef)
	}
	if req.Channel != entitlement.ChannelBankTransfer {
		t.Errorf("channel = %q", req.Channel)
	}

	tests := []struct {
		name  string
		mod   func(*BankTransferClaim)
		field string
	}{
		{"missing ref", func(c *BankTransferClaim) { c.TransactionRef = " " }, "transaction_ref"},
		{"missing bank", func(c *BankTransferClaim) { c.BankName = "" }, "bank_name"},
		{"zero amount", func(c *BankTransferClaim) { c.Amount = 0 }, "amount"},
		{"unknown plan", func(c *BankTransferClaim) { c.PlanID = "weekly" }, "plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := claim
			tt.mod(&c)
			_, err := BankTransfer{}.Claim(c)
			var ve *entitlement.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestAdminGrant(t *testing.T) {
	g := AdminGrant{AccountID: "acct-1", PlanID: "monthly", Amount: 1, GrantedBy: "admin-7"}

	req, err := Admin{}.Grant(g)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !strings.HasPrefix(req.ExternalRef, "admin:admin-7:") {
		t.Errorf("external ref = %q", req.ExternalRef)
	}
	other, _ := Admin{}.Grant(g)
	if other.ExternalRef == req.ExternalRef {
		t.Error("admin refs should be unique per grant")
	}

	g.GrantedBy = ""
	if _, err := (Admin{}).Grant(g); !errors.Is(err, entitlement.ErrValidation) {
		t.Errorf("missing granter: err = %v, want ErrValidation", err)
	}
}

func TestAdminGrantAutoProvisionNeedsTestMode(t *testing.T) {
	g := AdminGrant{AccountID: "new-acct", PlanID: "monthly", Amount: 1, GrantedBy: "admin-7", AutoProvision: true}

	_, err := Admin{TestMode: false}.Grant(g)
	var ve *entitlement.ValidationError
	if !errors.As(err, &ve) || ve.Field != "auto_provision" {
		t.Fatalf("err = %v, want auto_provision validation error", err)
	}

	req, err := Admin{TestMode: true}.Grant(g)
	if err != nil {
		t.Fatalf("test mode grant: %v", err)
	}
	if !req.AutoProvision {
		t.Error("expected auto provision to carry through")
	}
}
