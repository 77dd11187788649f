package entitlement

import "fmt"

// GrantRequest is the channel-independent shape every intake adapter
// produces. Amount is in minor currency units.
type GrantRequest struct {
	AccountID    string
	PlanID       string
	Amount       int64
	Channel      Channel
	ExternalRef  string
	ContactEmail string
	// AutoProvision asks the engine to create a placeholder account when none
	// exists. Only the admin channel may set it, and the engine honours it
	// only when test mode is enabled.
	AutoProvision bool
}

func (r GrantRequest) Validate() error {
	if r.AccountID == "" {
		return &ValidationError{Field: "account_id", Message: "required"}
	}
	if _, err := LookupPlan(r.PlanID); err != nil {
		return err
	}
	if r.Amount <= 0 {
		return &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if !r.Channel.Valid() {
		return &ValidationError{Field: "channel", Message: fmt.Sprintf("unknown channel %q", r.Channel)}
	}
	if r.ExternalRef == "" {
		return &ValidationError{Field: "external_ref", Message: "required"}
	}
	if r.AutoProvision && r.Channel != ChannelAdmin {
		return &ValidationError{Field: "auto_provision", Message: "only available to administrative grants"}
	}
	return nil
}
