package postgres

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
	err := scanner.Scan(
		&a.ID, &username, &firstName, &lastName, &language,
		&subEnd, &a.MessagesUsed, &a.MessagesLimit, &a.IsActive,
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
	return &a, nil
}

const accountCols = `id, username, first_name, last_name, language, subscription_end, messages_used, messages_limit, is_active, created_at, updated_at`

func (s *AccountStore) GetOrCreate(ctx context.Context, id int64, p model.Profile) (*model.Account, error) {
	now := utcNow()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, first_name, last_name, language, messages_used, messages_limit, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, 0, TRUE, $6, $6)
		 ON CONFLICT (id) DO NOTHING`,
		id, p.Username, p.FirstName, p.LastName, p.Language, now,
	)
	if err != nil {
		return nil, dbErr("insert account", err)
	}
	return s.Get(ctx, id)
}

func (s *AccountStore) Get(ctx context.Context, id int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get account", err)
	}
	return a, nil
}

func (s *AccountStore) UpdateLanguage(ctx context.Context, id int64, language string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET language = $1, updated_at = $2 WHERE id = $3`,
		language, utcNow(), id,
	)
	if err != nil {
		return dbErr("update language", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *AccountStore) ConsumeMessage(ctx context.Context, id int64, now time.Time) (bool, error) {
	now = now.UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts
		 SET messages_used = messages_used + 1, updated_at = $1
		 WHERE id = $2
		   AND (messages_used < messages_limit
		        OR (subscription_end IS NOT NULL AND subscription_end > $1))`,
		now, id,
	)
	if err != nil {
		return false, dbErr("consume message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr("consume message", err)
	}
	return n == 1, nil
}

func (s *AccountStore) GrantQuota(ctx context.Context, id int64, extra int64, newEnd *time.Time) error {
	res, err := grantQuota(ctx, s.db, id, extra, newEnd, utcNow())
	if err != nil {
		return dbErr("grant quota", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func grantQuota(ctx context.Context, ex execer, id, extra int64, newEnd *time.Time, now time.Time) (sql.Result, error) {
	var end any
	if newEnd != nil {
		end = newEnd.UTC()
	}
	return ex.ExecContext(ctx,
		`UPDATE accounts
		 SET messages_limit = messages_limit + $1,
		     subscription_end = CASE
		       WHEN $2::timestamptz IS NULL THEN subscription_end
		       WHEN subscription_end IS NULL OR subscription_end < $2::timestamptz THEN $2::timestamptz
		       ELSE subscription_end
		     END,
		     updated_at = $3
		 WHERE id = $4`,
		extra, end, now.UTC(), id,
	)
}
