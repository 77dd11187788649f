package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

// Opener connects a backend. ctx carries the probe deadline.
type Opener func(ctx context.Context) (Backend, error)

// Selector chooses the backend for the lifetime of the process: the primary
// when it answers within ProbeTimeout, otherwise the fallback. When neither
// opens, Select returns a backend that fails every call with
// entitlement.ErrBackendUnavailable so the service can still start.
type Selector struct {
	Primary      Opener
	Fallback     Opener
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

func (s *Selector) Select(ctx context.Context) Backend {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	if s.Primary != nil {
		b, err := s.probe(ctx, s.Primary)
		if err == nil {
			logger.Info("storage backend selected", "backend", b.Name())
			return b
		}
		logger.Warn("primary storage unreachable, trying fallback", "error", err)
		errs = append(errs, err)
	}
	if s.Fallback != nil {
		b, err := s.probe(ctx, s.Fallback)
		if err == nil {
			logger.Info("storage backend selected", "backend", b.Name())
			return b
		}
		logger.Error("fallback storage unavailable", "error", err)
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no storage backend configured"))
	}
	logger.Error("running without storage, reads degrade and writes fail")
	return Unavailable(errors.Join(errs...))
}

func (s *Selector) probe(ctx context.Context, open Opener) (Backend, error) {
	if s.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ProbeTimeout)
		defer cancel()
	}
	b, err := open(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.Ping(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

const unavailableName = "unavailable"

type unavailableBackend struct {
	cause error
}

// Unavailable returns a Backend whose every operation fails with a
// BackendUnavailableError wrapping cause.
func Unavailable(cause error) Backend {
	return &unavailableBackend{cause: cause}
}

func (u *unavailableBackend) Name() string { return unavailableName }

func (u *unavailableBackend) err(op string) error {
	return &entitlement.BackendUnavailableError{Backend: unavailableName, Op: op, Err: u.cause}
}

func (u *unavailableBackend) LoadEntitlement(context.Context, string) (*entitlement.Entitlement, error) {
	return nil, u.err("load entitlement")
}

func (u *unavailableBackend) SaveEntitlement(context.Context, *entitlement.Entitlement) error {
	return u.err("save entitlement")
}

func (u *unavailableBackend) GetAccount(context.Context, string) (*Account, error) {
	return nil, u.err("get account")
}

func (u *unavailableBackend) SaveAccount(context.Context, Account) (*Account, error) {
	return nil, u.err("save account")
}

func (u *unavailableBackend) Ping(context.Context) error { return u.err("ping") }

func (u *unavailableBackend) Close() error { return nil }
