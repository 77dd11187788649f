package store

import (
	"context"
	"os"
	"testing"
	"time"
)

// Postgres tests need a disposable database; they are skipped otherwise.
func setupPostgresTestDB(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("BOOKSHELF_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BOOKSHELF_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if _, err := p.pool.Exec(ctx, `TRUNCATE entitlements, accounts`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPostgresEntitlements(t *testing.T) {
	testEntitlements(t, setupPostgresTestDB(t))
}

func TestPostgresAccounts(t *testing.T) {
	testAccounts(t, setupPostgresTestDB(t))
}

func TestOpenPostgresReleasesMigrationConnections(t *testing.T) {
	p := setupPostgresTestDB(t)
	if n := p.pool.Stat().AcquiredConns(); n != 0 {
		t.Errorf("acquired connections after open = %d, want 0", n)
	}
}
