package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

const postgresName = "postgres"

type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects the primary backend, verifies it answers and applies
// migrations. ctx bounds the whole sequence.
func OpenPostgres(ctx context.Context, connString string) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// database/sql view over the pool for goose; closing it leaves the pool open.
	db := stdlib.OpenDBFromPool(pool)
	err = migrate(db, postgresMigrations, "postgres", "migrations/postgres")
	db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Name() string { return postgresName }

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return unavailable(postgresName, "ping", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) LoadEntitlement(ctx context.Context, accountID string) (*entitlement.Entitlement, error) {
	var e entitlement.Entitlement
	var plan, status string
	var endDate *time.Time
	var history []byte
	err := p.pool.QueryRow(ctx,
		`SELECT `+entitlementCols+` FROM entitlements WHERE account_id = $1`,
		accountID,
	).Scan(
		&e.AccountID, &e.IsActive, &plan, &e.StartDate, &endDate,
		&status, &history, &e.Version, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(postgresName, "load entitlement", err)
	}

	e.SubscriptionType = entitlement.PlanID(plan)
	e.Status = entitlement.Status(status)
	if endDate != nil {
		e.EndDate = endDate.UTC()
	}
	e.StartDate = e.StartDate.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if e.PaymentHistory, err = decodeHistory(history); err != nil {
		return nil, unavailable(postgresName, "load entitlement", err)
	}
	return &e, nil
}

func (p *Postgres) SaveEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	history, err := encodeHistory(e.PaymentHistory)
	if err != nil {
		return err
	}
	var endDate *time.Time
	if !e.EndDate.IsZero() {
		end := e.EndDate.UTC()
		endDate = &end
	}
	updatedAt := time.Now().UTC()

	var rows int64
	if e.Version == 0 {
		tag, err := p.pool.Exec(ctx,
			`INSERT INTO entitlements (`+entitlementCols+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, 1, $8)
			 ON CONFLICT (account_id) DO NOTHING`,
			e.AccountID, e.IsActive, string(e.SubscriptionType), e.StartDate.UTC(), endDate,
			string(e.Status), history, updatedAt,
		)
		if err != nil {
			return unavailable(postgresName, "save entitlement", err)
		}
		rows = tag.RowsAffected()
	} else {
		tag, err := p.pool.Exec(ctx,
			`UPDATE entitlements
			 SET is_active = $1, subscription_type = $2, start_date = $3, end_date = $4, status = $5,
			     payment_history = $6::jsonb, version = version + 1, updated_at = $7
			 WHERE account_id = $8 AND version = $9`,
			e.IsActive, string(e.SubscriptionType), e.StartDate.UTC(), endDate, string(e.Status),
			history, updatedAt, e.AccountID, e.Version,
		)
		if err != nil {
			return unavailable(postgresName, "save entitlement", err)
		}
		rows = tag.RowsAffected()
	}

	if rows == 0 {
		return entitlement.ErrConflict
	}
	e.Version++
	e.UpdatedAt = updatedAt
	return nil
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (*Account, error) {
	var a Account
	err := p.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Email, &a.Placeholder, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(postgresName, "get account", err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (p *Postgres) SaveAccount(ctx context.Context, a Account) (*Account, error) {
	var saved Account
	err := p.pool.QueryRow(ctx,
		`INSERT INTO accounts (id, email, placeholder) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, placeholder = EXCLUDED.placeholder
		 RETURNING `+accountCols,
		a.ID, a.Email, a.Placeholder,
	).Scan(&saved.ID, &saved.Email, &saved.Placeholder, &saved.CreatedAt)
	if err != nil {
		return nil, unavailable(postgresName, "save account", err)
	}
	saved.CreatedAt = saved.CreatedAt.UTC()
	return &saved, nil
}
