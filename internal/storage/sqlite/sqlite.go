// Package sqlite implements the storage backend on an embedded SQLite
// database via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dukerupert/chatledger/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Backend is the embedded-store implementation of storage.Backend.
type Backend struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at the given path and runs
// migrations. Use ":memory:" for an ephemeral database.
func Open(dbPath string) (*Backend, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w: %v", storage.ErrUnavailable, err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Backend{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

func (b *Backend) Accounts() storage.AccountStore           { return &AccountStore{db: b.db} }
func (b *Backend) Licenses() storage.LicenseStore           { return &LicenseStore{db: b.db} }
func (b *Backend) Conversations() storage.ConversationStore { return &ConversationStore{db: b.db} }
func (b *Backend) Transactions() storage.TransactionStore   { return &TransactionStore{db: b.db} }

func (b *Backend) Close() error { return b.db.Close() }

// DB exposes the underlying handle for test fixtures.
func (b *Backend) DB() *sql.DB { return b.db }

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// withBusyRetry re-runs fn on SQLITE_BUSY/SQLITE_LOCKED, which surface on
// write contention despite the busy timeout.
func withBusyRetry(ctx context.Context, fn func() error) error {
	b := retry.WithMaxRetries(5, retry.NewFibonacci(5*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn()
		if isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func utcNow() time.Time { return time.Now().UTC() }
