// Package access answers whether an account may use premium features right
// now. It never returns an error: an unreadable store means no access.
package access

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

type Loader interface {
	LoadEntitlement(ctx context.Context, accountID string) (*entitlement.Entitlement, error)
}

type Recorder interface {
	AccessRecorded(result string)
}

type Role string

const (
	RoleReader Role = "reader"
	RoleAuthor Role = "author"
	RoleAdmin  Role = "admin"
)

// Elevated roles see premium content regardless of entitlement.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleAuthor
}

type Principal struct {
	AccountID string
	Role      Role
}

type Access struct {
	Valid         bool `json:"valid"`
	DaysRemaining int  `json:"days_remaining"`
	// Degraded is set when the store could not be read and access was denied
	// as a precaution.
	Degraded bool `json:"degraded,omitempty"`
	Bypass   bool `json:"bypass,omitempty"`
}

type Service struct {
	loader  Loader
	now     func() time.Time
	logger  *slog.Logger
	metrics Recorder
}

func NewService(loader Loader, now func() time.Time, logger *slog.Logger, metrics Recorder) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{loader: loader, now: now, logger: logger, metrics: metrics}
}

// ComputeAccess evaluates the account's entitlement at the current time.
func (s *Service) ComputeAccess(ctx context.Context, accountID string) Access {
	if accountID == "" {
		s.record("denied")
		return Access{}
	}
	e, err := s.loader.LoadEntitlement(ctx, accountID)
	if err != nil {
		s.logger.Error("entitlement lookup failed, denying access", "account_id", accountID, "error", err)
		s.record("degraded")
		return Access{Degraded: true}
	}
	now := s.now()
	a := Access{
		Valid:         entitlement.HasAccess(e, now),
		DaysRemaining: entitlement.DaysRemaining(e, now),
	}
	if a.Valid {
		s.record("granted")
	} else {
		s.record("denied")
	}
	return a
}

// ForPrincipal is ComputeAccess with the role bypass applied. Elevated roles
// are valid without a store read.
func (s *Service) ForPrincipal(ctx context.Context, p Principal) Access {
	if p.Role.Elevated() {
		s.record("bypass")
		return Access{Valid: true, Bypass: true}
	}
	return s.ComputeAccess(ctx, p.AccountID)
}

// CanReadBook gates the reader. Free books are open to everyone.
func (s *Service) CanReadBook(ctx context.Context, p Principal, premium bool) bool {
	if !premium {
		return true
	}
	return s.ForPrincipal(ctx, p).Valid
}

// AutoApproveReview reports whether a review skips moderation. Elevated roles
// are auto-approved as well.
func (s *Service) AutoApproveReview(ctx context.Context, p Principal) bool {
	return s.ForPrincipal(ctx, p).Valid
}

// CanSaveProgress gates persisting the reading position of a book.
func (s *Service) CanSaveProgress(ctx context.Context, p Principal, premium bool) bool {
	if !premium {
		return true
	}
	return s.ForPrincipal(ctx, p).Valid
}

func (s *Service) record(result string) {
	if s.metrics != nil {
		s.metrics.AccessRecorded(result)
	}
}
