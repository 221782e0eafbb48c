// Package postgres implements the storage backend on a hosted PostgreSQL
// database via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/chatledger/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Backend is the hosted-store implementation of storage.Backend.
type Backend struct {
	db *sql.DB
}

// Open connects to the database described by the lib/pq DSN and runs
// migrations.
func Open(dsn string) (*Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

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

	if err := goose.SetDialect("postgres"); err != nil {
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

// dbErr wraps a driver error. Errors the server itself reports arrive as
// *pq.Error; anything else non-context is transport-level, which callers
// must treat as storage unavailability (fail closed).
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// withTxRetry re-runs fn when the server aborts the transaction with a
// serialization failure or deadlock.
func withTxRetry(ctx context.Context, fn func() error) error {
	b := retry.WithMaxRetries(5, retry.NewFibonacci(10*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn()
		if isSerializationFailure(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func utcNow() time.Time { return time.Now().UTC() }
