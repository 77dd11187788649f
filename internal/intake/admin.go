package intake

import (
	"github.com/google/uuid"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

type AdminGrant struct {
	AccountID     string
	PlanID        string
	Amount        int64
	GrantedBy     string
	ContactEmail  string
	AutoProvision bool
}

// Admin builds direct grants. Placeholder accounts may only be provisioned
// when the process runs in test mode.
type Admin struct {
	TestMode bool
}

func (a Admin) Grant(g AdminGrant) (entitlement.GrantRequest, error) {
	if err := required("granted_by", g.GrantedBy); err != nil {
		return entitlement.GrantRequest{}, err
	}
	if g.AutoProvision && !a.TestMode {
		return entitlement.GrantRequest{}, &entitlement.ValidationError{
			Field:   "auto_provision",
			Message: "placeholder accounts are only available in test mode",
		}
	}
	req := entitlement.GrantRequest{
		AccountID:     g.AccountID,
		PlanID:        g.PlanID,
		Amount:        g.Amount,
		Channel:       entitlement.ChannelAdmin,
		ExternalRef:   "admin:" + g.GrantedBy + ":" + uuid.NewString(),
		ContactEmail:  g.ContactEmail,
		AutoProvision: g.AutoProvision,
	}
	if err := req.Validate(); err != nil {
		return entitlement.GrantRequest{}, err
	}
	return req, nil
}
