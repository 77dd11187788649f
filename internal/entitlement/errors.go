package entitlement

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("concurrent update conflict")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrChannel            = errors.New("payment channel rejected grant")
)

// ValidationError reports bad caller input: an unknown plan, a non-positive
// amount or a malformed channel payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError is surfaced only after every retry of a per-account write
// lost its compare-and-set.
type ConflictError struct {
	AccountID string
	Attempts  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("entitlement for %q still conflicting after %d attempts", e.AccountID, e.Attempts)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// BackendUnavailableError wraps any storage driver failure so raw driver
// errors never leave the store.
type BackendUnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s backend %s: unavailable", e.Backend, e.Op)
}

func (e *BackendUnavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// ChannelError is an adapter-level rejection carrying the channel's reason.
type ChannelError struct {
	Channel Channel
	Reason  string
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s channel: %s: %v", e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s channel: %s", e.Channel, e.Reason)
}

func (e *ChannelError) Is(target error) bool {
	return target == ErrChannel
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
