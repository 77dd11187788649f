package entitlement

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	// StatusExpired is only ever reported, never stored. Expiry is judged
	// from EndDate at read time.
	StatusExpired Status = "expired"
)

type Channel string

const (
	ChannelGateway      Channel = "gateway"
	ChannelBankTransfer Channel = "bank_transfer"
	ChannelAdmin        Channel = "admin"
)

// Valid reports whether c is one of the known grant channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelGateway, ChannelBankTransfer, ChannelAdmin:
		return true
	}
	return false
}

const PaymentStatusCompleted = "completed"

type PaymentRecord struct {
	ID          string    `json:"id"`
	Amount      int64     `json:"amount"`
	Channel     Channel   `json:"channel"`
	ExternalRef string    `json:"external_ref"`
	Status      string    `json:"status"`
	Date        time.Time `json:"date"`
}

// Entitlement is the server-held premium access record of one account.
// Version is the optimistic concurrency counter maintained by the store;
// zero means the record has never been persisted.
type Entitlement struct {
	AccountID        string          `json:"account_id"`
	IsActive         bool            `json:"is_active"`
	SubscriptionType PlanID          `json:"subscription_type"`
	StartDate        time.Time       `json:"start_date"`
	EndDate          time.Time       `json:"end_date"`
	Status           Status          `json:"status"`
	PaymentHistory   []PaymentRecord `json:"payment_history"`
	Version          int64           `json:"-"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// New returns an unsaved entitlement in the pending state.
func New(accountID string) *Entitlement {
	return &Entitlement{
		AccountID: accountID,
		Status:    StatusPending,
	}
}

// HasAccess is the validity predicate. A stored active record whose end date
// has passed is not valid; callers must use this rather than Status.
func HasAccess(e *Entitlement, now time.Time) bool {
	if e == nil || !e.IsActive {
		return false
	}
	return e.EndDate.IsZero() || now.Before(e.EndDate)
}

// DaysRemaining rounds the remaining validity up to whole days. It is zero
// whenever HasAccess is false.
func DaysRemaining(e *Entitlement, now time.Time) int {
	if !HasAccess(e, now) || e.EndDate.IsZero() {
		return 0
	}
	return int((e.EndDate.Sub(now) + Day - 1) / Day)
}

// EffectiveStatus reports the status a reader should see at now, turning a
// stored active record past its end date into expired.
func EffectiveStatus(e *Entitlement, now time.Time) Status {
	if e == nil {
		return ""
	}
	if e.Status == StatusActive && !HasAccess(e, now) {
		return StatusExpired
	}
	return e.Status
}

// Clone returns a deep copy so a loaded record can be transformed without
// aliasing its payment history.
func (e *Entitlement) Clone() *Entitlement {
	if e == nil {
		return nil
	}
	c := *e
	c.PaymentHistory = append([]PaymentRecord(nil), e.PaymentHistory...)
	return &c
}

type Snapshot struct {
	AccountID     string    `json:"account_id"`
	IsActive      bool      `json:"is_active"`
	Valid         bool      `json:"valid"`
	Status        Status    `json:"status"`
	Plan          PlanID    `json:"plan"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	DaysRemaining int       `json:"days_remaining"`
	Payments      int       `json:"payments"`
}

func (e *Entitlement) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		AccountID:     e.AccountID,
		IsActive:      e.IsActive,
		Valid:         HasAccess(e, now),
		Status:        EffectiveStatus(e, now),
		Plan:          e.SubscriptionType,
		StartDate:     e.StartDate,
		EndDate:       e.EndDate,
		DaysRemaining: DaysRemaining(e, now),
		Payments:      len(e.PaymentHistory),
	}
}
