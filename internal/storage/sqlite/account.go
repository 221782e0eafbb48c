package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chatledger/internal/model"
	"github.com/dukerupert/chatledger/internal/storage"
)

type AccountStore struct {
	db *sql.DB
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var username, firstName, lastName, language sql.NullString
	var subEnd sql.NullTime
	var isActive int64
	err := scanner.Scan(
		&a.ID, &username, &firstName, &lastName, &language,
		&subEnd, &a.MessagesUsed, &a.MessagesLimit, &isActive,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if username.Valid {
		a.Username = &username.String
	}
	if firstName.Valid {
		a.FirstName = &firstName.String
	}
	if lastName.Valid {
		a.LastName = &lastName.String
	}
	if language.Valid {
		a.Language = &language.String
	}
	if subEnd.Valid {
		t := subEnd.Time.UTC()
		a.SubscriptionEnd = &t
	}
	a.IsActive = isActive != 0
	return &a, nil
}

const accountCols = `id, username, first_name, last_name, language, subscription_end, messages_used, messages_limit, is_active, created_at, updated_at`

func (s *AccountStore) GetOrCreate(ctx context.Context, id int64, p model.Profile) (*model.Account, error) {
	now := utcNow()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, first_name, last_name, language, messages_used, messages_limit, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, 1, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		id, p.Username, p.FirstName, p.LastName, p.Language, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *AccountStore) Get(ctx context.Context, id int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) UpdateLanguage(ctx context.Context, id int64, language string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET language = ?, updated_at = ? WHERE id = ?`,
		language, utcNow(), id,
	)
	if err != nil {
		return fmt.Errorf("update language: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// ConsumeMessage re-checks entitlement inside the UPDATE guard, so the
// increment and the check are one atomic statement.
func (s *AccountStore) ConsumeMessage(ctx context.Context, id int64, now time.Time) (bool, error) {
	now = now.UTC()
	var n int64
	err := withBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE accounts
			 SET messages_used = messages_used + 1, updated_at = ?
			 WHERE id = ?
			   AND (messages_used < messages_limit
			        OR (subscription_end IS NOT NULL AND subscription_end > ?))`,
			now, id, now,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("consume message: %w", err)
	}
	return n == 1, nil
}

func (s *AccountStore) GrantQuota(ctx context.Context, id int64, extra int64, newEnd *time.Time) error {
	var n int64
	err := withBusyRetry(ctx, func() error {
		res, err := grantQuota(ctx, s.db, id, extra, newEnd, utcNow())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("grant quota: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// grantQuota bumps messages_limit and replaces the subscription end only
// when the new one is later. Shared with the license redemption transaction.
func grantQuota(ctx context.Context, ex execer, id, extra int64, newEnd *time.Time, now time.Time) (sql.Result, error) {
	var end any
	if newEnd != nil {
		end = newEnd.UTC()
	}
	return ex.ExecContext(ctx,
		`UPDATE accounts
		 SET messages_limit = messages_limit + ?,
		     subscription_end = CASE
		       WHEN ? IS NULL THEN subscription_end
		       WHEN subscription_end IS NULL OR subscription_end < ? THEN ?
		       ELSE subscription_end
		     END,
		     updated_at = ?
		 WHERE id = ?`,
		extra, end, end, end, now.UTC(), id,
	)
}
