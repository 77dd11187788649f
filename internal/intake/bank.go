package intake

import (
	"strings"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

type BankTransferClaim struct {
	AccountID      string
	PlanID         string
	Amount         int64
	TransactionRef string
	BankName       string
	ContactEmail   string
}

// BankTransfer accepts self-reported transfers. Claims are approved without
// checking the bank; the reference is kept in the payment history for audit.
type BankTransfer struct{}

func (BankTransfer) Claim(c BankTransferClaim) (entitlement.GrantRequest, error) {
	if err := required("transaction_ref", c.TransactionRef); err != nil {
		return entitlement.GrantRequest{}, err
	}
	if err := required("bank_name", c.BankName); err != nil {
		return entitlement.GrantRequest{}, err
	}
	req := entitlement.GrantRequest{
		AccountID:    c.AccountID,
		PlanID:       c.PlanID,
		Amount:       c.Amount,
		Channel:      entitlement.ChannelBankTransfer,
		ExternalRef:  "bank:" + strings.TrimSpace(c.BankName) + ":" + strings.TrimSpace(c.TransactionRef),
		ContactEmail: c.ContactEmail,
	}
	if err := req.Validate(); err != nil {
		return entitlement.GrantRequest{}, err
	}
	return req, nil
}
