// Package store persists entitlements and the account mirror. Two
// interchangeable backends exist: PostgreSQL (primary, networked) and SQLite
// (local fallback). A Selector picks one at process start.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

// Backend is the uniform read/write contract both stores implement.
//
// SaveEntitlement is atomic for the single record it writes. It compares the
// record's Version with the stored one and fails with entitlement.ErrConflict
// if another writer got there first; on success Version is incremented in
// place. LoadEntitlement and GetAccount return nil, nil when nothing is stored.
type Backend interface {
	Name() string
	LoadEntitlement(ctx context.Context, accountID string) (*entitlement.Entitlement, error)
	SaveEntitlement(ctx context.Context, e *entitlement.Entitlement) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	SaveAccount(ctx context.Context, a Account) (*Account, error)
	Ping(ctx context.Context) error
	Close() error
}

// Account mirrors the identity owned by the auth subsystem. Placeholder
// accounts are only ever created by test-mode administrative grants.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Placeholder bool      `json:"placeholder"`
	CreatedAt   time.Time `json:"created_at"`
}

func encodeHistory(h []entitlement.PaymentRecord) (string, error) {
	if h == nil {
		h = []entitlement.PaymentRecord{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode payment history: %w", err)
	}
	return string(b), nil
}

func decodeHistory(b []byte) ([]entitlement.PaymentRecord, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var h []entitlement.PaymentRecord
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("decode payment history: %w", err)
	}
	return h, nil
}

func unavailable(backend, op string, err error) error {
	return &entitlement.BackendUnavailableError{Backend: backend, Op: op, Err: err}
}
