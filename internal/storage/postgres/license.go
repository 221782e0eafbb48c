package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chatledger/internal/model"
	"github.com/dukerupert/chatledger/internal/storage"
)

type LicenseStore struct {
	db *sql.DB
}

func scanLicense(scanner interface{ Scan(...any) error }) (*model.License, error) {
	var l model.License
	var usedBy sql.NullInt64
	var usedAt sql.NullTime
	err := scanner.Scan(
		&l.ID, &l.Token, &l.DurationDays, &l.MessageLimit, &l.Price,
		&l.IsUsed, &usedBy, &usedAt, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if usedBy.Valid {
		l.UsedBy = &usedBy.Int64
	}
	if usedAt.Valid {
		t := usedAt.Time.UTC()
		l.UsedAt = &t
	}
	return &l, nil
}

const licenseCols = `id, token, duration_days, message_limit, price, is_used, used_by, used_at, created_at`

func (s *LicenseStore) Insert(ctx context.Context, lic *model.License) (*model.License, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO licenses (token, duration_days, message_limit, price, is_used, created_at)
		 VALUES ($1, $2, $3, $4, FALSE, $5)
		 RETURNING `+licenseCols,
		lic.Token, lic.DurationDays, lic.MessageLimit, lic.Price, utcNow(),
	)
	created, err := scanLicense(row)
	if err != nil {
		return nil, dbErr("insert license", err)
	}
	return created, nil
}

func (s *LicenseStore) GetByToken(ctx context.Context, token string) (*model.License, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+licenseCols+` FROM licenses WHERE token = $1`, token)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("license: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get license by token", err)
	}
	return l, nil
}

// Redeem locks the license row with SELECT ... FOR UPDATE, so concurrent
// redemptions of one token serialize on the row lock and the losers observe
// is_used already set.
func (s *LicenseStore) Redeem(ctx context.Context, token string, userID int64, now time.Time) (*model.License, error) {
	now = now.UTC()
	var redeemed *model.License
	err := withTxRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return dbErr("begin", err)
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx,
			`SELECT `+licenseCols+` FROM licenses WHERE token = $1 FOR UPDATE`, token)
		lic, err := scanLicense(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("license: %w", storage.ErrNotFound)
		}
		if err != nil {
			return dbErr("get license by token", err)
		}
		if lic.IsUsed {
			return fmt.Errorf("license %d: %w", lic.ID, storage.ErrAlreadyRedeemed)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE licenses SET is_used = TRUE, used_by = $1, used_at = $2 WHERE id = $3`,
			userID, now, lic.ID,
		); err != nil {
			return dbErr("mark license used", err)
		}

		var newEnd *time.Time
		if lic.DurationDays > 0 {
			e := now.AddDate(0, 0, lic.DurationDays)
			newEnd = &e
		}
		grant, err := grantQuota(ctx, tx, userID, lic.MessageLimit, newEnd, now)
		if err != nil {
			return dbErr("grant quota", err)
		}
		if n, _ := grant.RowsAffected(); n == 0 {
			return fmt.Errorf("account %d: %w", userID, storage.ErrNotFound)
		}

		if err := tx.Commit(); err != nil {
			return dbErr("commit", err)
		}

		lic.IsUsed = true
		lic.UsedBy = &userID
		usedAt := now
		lic.UsedAt = &usedAt
		redeemed = lic
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redeem license: %w", err)
	}
	return redeemed, nil
}
