package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

func migrate(db *sql.DB, fsys embed.FS, dialect, dir string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

const sqliteName = "sqlite"

type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the local fallback database at path and runs migrations.
// ":memory:" gives a private in-process database, used by tests.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := migrate(db, sqliteMigrations, "sqlite3", "migrations/sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Name() string { return sqliteName }

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(sqliteName, "ping", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

const entitlementCols = `account_id, is_active, subscription_type, start_date, end_date, status, payment_history, version, updated_at`

func (s *SQLite) LoadEntitlement(ctx context.Context, accountID string) (*entitlement.Entitlement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entitlementCols+` FROM entitlements WHERE account_id = ?`, accountID)

	var e entitlement.Entitlement
	var isActive int
	var plan, status, history string
	var endDate sql.NullTime
	err := row.Scan(
		&e.AccountID, &isActive, &plan, &e.StartDate, &endDate,
		&status, &history, &e.Version, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(sqliteName, "load entitlement", err)
	}

	e.IsActive = isActive != 0
	e.SubscriptionType = entitlement.PlanID(plan)
	e.Status = entitlement.Status(status)
	if endDate.Valid {
		e.EndDate = endDate.Time.UTC()
	}
	e.StartDate = e.StartDate.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if e.PaymentHistory, err = decodeHistory([]byte(history)); err != nil {
		return nil, unavailable(sqliteName, "load entitlement", err)
	}
	return &e, nil
}

func (s *SQLite) SaveEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	history, err := encodeHistory(e.PaymentHistory)
	if err != nil {
		return err
	}
	var endDate sql.NullTime
	if !e.EndDate.IsZero() {
		endDate = sql.NullTime{Time: e.EndDate.UTC(), Valid: true}
	}
	isActive := 0
	if e.IsActive {
		isActive = 1
	}
	updatedAt := time.Now().UTC()

	var result sql.Result
	if e.Version == 0 {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO entitlements (`+entitlementCols+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
			 ON CONFLICT (account_id) DO NOTHING`,
			e.AccountID, isActive, string(e.SubscriptionType), e.StartDate.UTC(), endDate,
			string(e.Status), history, updatedAt,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE entitlements
			 SET is_active = ?, subscription_type = ?, start_date = ?, end_date = ?, status = ?,
			     payment_history = ?, version = version + 1, updated_at = ?
			 WHERE account_id = ? AND version = ?`,
			isActive, string(e.SubscriptionType), e.StartDate.UTC(), endDate, string(e.Status),
			history, updatedAt, e.AccountID, e.Version,
		)
	}
	if err != nil {
		return unavailable(sqliteName, "save entitlement", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return unavailable(sqliteName, "save entitlement", err)
	}
	if n == 0 {
		return entitlement.ErrConflict
	}
	e.Version++
	e.UpdatedAt = updatedAt
	return nil
}

const accountCols = `id, email, placeholder, created_at`

func (s *SQLite) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)

	var a Account
	var placeholder int
	err := row.Scan(&a.ID, &a.Email, &placeholder, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(sqliteName, "get account", err)
	}
	a.Placeholder = placeholder != 0
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// SaveAccount inserts the account or refreshes its email and placeholder flag.
func (s *SQLite) SaveAccount(ctx context.Context, a Account) (*Account, error) {
	placeholder := 0
	if a.Placeholder {
		placeholder = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, placeholder) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET email = excluded.email, placeholder = excluded.placeholder`,
		a.ID, a.Email, placeholder,
	)
	if err != nil {
		return nil, unavailable(sqliteName, "save account", err)
	}
	return s.GetAccount(ctx, a.ID)
}
