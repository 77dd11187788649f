// Package subscription applies grants and cancellations to entitlements.
// Every pathway converges on Engine.Grant so the extend-or-restart rule lives
// in one place.
package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/dukerupert/bookshelf/internal/entitlement"
	"github.com/dukerupert/bookshelf/internal/store"
)

// Store is the slice of the storage backend the engine needs.
type Store interface {
	LoadEntitlement(ctx context.Context, accountID string) (*entitlement.Entitlement, error)
	SaveEntitlement(ctx context.Context, e *entitlement.Entitlement) error
	GetAccount(ctx context.Context, id string) (*store.Account, error)
	SaveAccount(ctx context.Context, a store.Account) (*store.Account, error)
}

// Notifier delivers a receipt after a successful grant.
type Notifier interface {
	SendGrantReceipt(ctx context.Context, to string, snap entitlement.Snapshot, payment entitlement.PaymentRecord) error
}

type Recorder interface {
	GrantRecorded(channel, result string)
	ConflictRecorded()
	CancelRecorded(result string)
}

type Options struct {
	// MaxAttempts bounds how many times a write is tried when it loses the
	// version compare-and-set. Defaults to 5.
	MaxAttempts int
	// AllowPlaceholders lets auto-provisioning admin grants create accounts.
	AllowPlaceholders bool
	Now               func() time.Time
	Logger            *slog.Logger
	Notifier          Notifier
	// NotifyTimeout bounds a receipt send. Defaults to 5s.
	NotifyTimeout time.Duration
	Metrics       Recorder
	// Backoff overrides the retry schedule between conflicting attempts.
	Backoff func() backoff.BackOff
}

type Engine struct {
	store             Store
	locks             *accountLocks
	maxAttempts       int
	allowPlaceholders bool
	now               func() time.Time
	logger            *slog.Logger
	notifier          Notifier
	notifyTimeout     time.Duration
	metrics           Recorder
	newBackoff        func() backoff.BackOff
}

func New(s Store, opts Options) *Engine {
	e := &Engine{
		store:             s,
		locks:             newAccountLocks(),
		maxAttempts:       opts.MaxAttempts,
		allowPlaceholders: opts.AllowPlaceholders,
		now:               opts.Now,
		logger:            opts.Logger,
		notifier:          opts.Notifier,
		notifyTimeout:     opts.NotifyTimeout,
		metrics:           opts.Metrics,
		newBackoff:        opts.Backoff,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = 5
	}
	if e.notifyTimeout <= 0 {
		e.notifyTimeout = 5 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = nopRecorder{}
	}
	if e.newBackoff == nil {
		e.newBackoff = defaultBackoff
	}
	return e
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

// Grant applies a validated payment to the account's entitlement. Time still
// left on a valid entitlement is kept and the plan's days are added to it;
// otherwise validity restarts from now. A request whose external reference is
// already in the payment history is treated as a replay and changes nothing.
func (e *Engine) Grant(ctx context.Context, req entitlement.GrantRequest) (entitlement.Snapshot, error) {
	if err := req.Validate(); err != nil {
		e.metrics.GrantRecorded(string(req.Channel), "invalid")
		return entitlement.Snapshot{}, err
	}
	plan, err := entitlement.LookupPlan(req.PlanID)
	if err != nil {
		return entitlement.Snapshot{}, err
	}

	var (
		saved   *entitlement.Entitlement
		payment entitlement.PaymentRecord
		replay  bool
		now     time.Time
	)
	unlock := e.locks.Lock(req.AccountID)
	err = e.retry(ctx, req.AccountID, func() error {
		current, err := e.store.LoadEntitlement(ctx, req.AccountID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if current == nil {
			if err := e.resolveAccount(ctx, req); err != nil {
				return backoff.Permanent(err)
			}
			current = entitlement.New(req.AccountID)
		} else if hasPayment(current, req) {
			saved, replay = current, true
			return nil
		}

		now = e.now().UTC()
		next := current.Clone()
		switch {
		case !entitlement.HasAccess(current, now):
			next.StartDate = now
			next.EndDate = now.Add(plan.Duration())
		case !current.EndDate.IsZero():
			next.EndDate = current.EndDate.Add(plan.Duration())
		}
		next.IsActive = true
		next.Status = entitlement.StatusActive
		next.SubscriptionType = plan.ID
		payment = entitlement.PaymentRecord{
			ID:          uuid.NewString(),
			Amount:      req.Amount,
			Channel:     req.Channel,
			ExternalRef: req.ExternalRef,
			Status:      entitlement.PaymentStatusCompleted,
			Date:        now,
		}
		next.PaymentHistory = append(next.PaymentHistory, payment)

		if err := e.save(ctx, next); err != nil {
			return err
		}
		saved = next
		return nil
	})
	unlock()

	if err != nil {
		e.metrics.GrantRecorded(string(req.Channel), resultLabel(err))
		e.logger.Warn("grant failed", "account_id", req.AccountID, "channel", req.Channel, "error", err)
		return entitlement.Snapshot{}, err
	}

	if replay {
		e.metrics.GrantRecorded(string(req.Channel), "duplicate")
		e.logger.Info("duplicate grant ignored", "account_id", req.AccountID, "channel", req.Channel, "external_ref", req.ExternalRef)
		return saved.Snapshot(e.now()), nil
	}

	snap := saved.Snapshot(now)
	e.metrics.GrantRecorded(string(req.Channel), "ok")
	e.logger.Info("entitlement granted",
		"account_id", req.AccountID,
		"channel", req.Channel,
		"plan", plan.ID,
		"end_date", saved.EndDate,
		"days_remaining", snap.DaysRemaining,
	)
	e.notify(ctx, req, snap, payment)
	return snap, nil
}

// Cancel revokes access immediately. Payment history is kept and cancelling
// an already cancelled entitlement succeeds without writing.
func (e *Engine) Cancel(ctx context.Context, accountID string) (entitlement.Snapshot, error) {
	if accountID == "" {
		return entitlement.Snapshot{}, &entitlement.ValidationError{Field: "account_id", Message: "required"}
	}

	var saved *entitlement.Entitlement
	var noop bool
	unlock := e.locks.Lock(accountID)
	err := e.retry(ctx, accountID, func() error {
		current, err := e.store.LoadEntitlement(ctx, accountID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if current == nil {
			return backoff.Permanent(&entitlement.NotFoundError{Entity: "entitlement", ID: accountID})
		}
		if current.Status == entitlement.StatusCancelled {
			saved, noop = current, true
			return nil
		}

		next := current.Clone()
		next.IsActive = false
		next.Status = entitlement.StatusCancelled
		if err := e.save(ctx, next); err != nil {
			return err
		}
		saved = next
		return nil
	})
	unlock()

	if err != nil {
		e.metrics.CancelRecorded(resultLabel(err))
		return entitlement.Snapshot{}, err
	}
	if noop {
		e.metrics.CancelRecorded("noop")
	} else {
		e.metrics.CancelRecorded("ok")
		e.logger.Info("entitlement cancelled", "account_id", accountID)
	}
	return saved.Snapshot(e.now()), nil
}

// Entitlement returns the full stored record, payment history included.
func (e *Engine) Entitlement(ctx context.Context, accountID string) (*entitlement.Entitlement, error) {
	ent, err := e.store.LoadEntitlement(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, &entitlement.NotFoundError{Entity: "entitlement", ID: accountID}
	}
	return ent, nil
}

// RegisterAccount records an account created by the auth subsystem.
func (e *Engine) RegisterAccount(ctx context.Context, id, email string) (*store.Account, error) {
	if id == "" {
		return nil, &entitlement.ValidationError{Field: "id", Message: "required"}
	}
	return e.store.SaveAccount(ctx, store.Account{ID: id, Email: email})
}

// Now is the engine's clock, shared with handlers that render snapshots.
func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) resolveAccount(ctx context.Context, req entitlement.GrantRequest) error {
	acct, err := e.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return err
	}
	if acct != nil {
		return nil
	}
	if !req.AutoProvision || !e.allowPlaceholders {
		return &entitlement.NotFoundError{Entity: "account", ID: req.AccountID}
	}
	if _, err := e.store.SaveAccount(ctx, store.Account{ID: req.AccountID, Email: req.ContactEmail, Placeholder: true}); err != nil {
		return err
	}
	e.logger.Warn("placeholder account provisioned", "account_id", req.AccountID)
	return nil
}

// save maps a lost compare-and-set to a retryable error and everything else
// to a permanent one.
func (e *Engine) save(ctx context.Context, next *entitlement.Entitlement) error {
	err := e.store.SaveEntitlement(ctx, next)
	if err == nil {
		return nil
	}
	if errors.Is(err, entitlement.ErrConflict) {
		e.metrics.ConflictRecorded()
		return err
	}
	return backoff.Permanent(err)
}

func (e *Engine) retry(ctx context.Context, accountID string, op func() error) error {
	attempts := 0
	b := backoff.WithContext(backoff.WithMaxRetries(e.newBackoff(), uint64(e.maxAttempts-1)), ctx)
	err := backoff.Retry(func() error {
		attempts++
		return op()
	}, b)
	if err == nil {
		return nil
	}
	// A raw context error means the deadline ran out while waiting to retry a
	// lost compare-and-set.
	if errors.Is(err, entitlement.ErrConflict) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &entitlement.ConflictError{AccountID: accountID, Attempts: attempts}
	}
	return err
}

// notify sends the receipt to the request's contact address, or the account's
// mirrored email when the channel supplied none. The grant is already saved,
// so the send is bounded by notifyTimeout and outlives a cancelled request.
func (e *Engine) notify(ctx context.Context, req entitlement.GrantRequest, snap entitlement.Snapshot, payment entitlement.PaymentRecord) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()
	to := req.ContactEmail
	if to == "" {
		acct, err := e.store.GetAccount(ctx, req.AccountID)
		if err != nil || acct == nil {
			return
		}
		to = acct.Email
	}
	if to == "" {
		return
	}
	if err := e.notifier.SendGrantReceipt(ctx, to, snap, payment); err != nil {
		e.logger.Warn("grant receipt not sent", "account_id", req.AccountID, "error", err)
	}
}

func hasPayment(e *entitlement.Entitlement, req entitlement.GrantRequest) bool {
	for _, p := range e.PaymentHistory {
		if p.Channel == req.Channel && p.ExternalRef == req.ExternalRef {
			return true
		}
	}
	return false
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, entitlement.ErrValidation):
		return "invalid"
	case errors.Is(err, entitlement.ErrNotFound):
		return "not_found"
	case errors.Is(err, entitlement.ErrConflict):
		return "conflict"
	case errors.Is(err, entitlement.ErrBackendUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

type nopRecorder struct{}

func (nopRecorder) GrantRecorded(string, string) {}
func (nopRecorder) ConflictRecorded()            {}
func (nopRecorder) CancelRecorded(string)        {}
