package sqlite

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
	var isUsed int64
	var usedBy sql.NullInt64
	var usedAt sql.NullTime
	err := scanner.Scan(
		&l.ID, &l.Token, &l.DurationDays, &l.MessageLimit, &l.Price,
		&isUsed, &usedBy, &usedAt, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.IsUsed = isUsed != 0
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
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO licenses (token, duration_days, message_limit, price, is_used, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		lic.Token, lic.DurationDays, lic.MessageLimit, lic.Price, utcNow(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert license: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+licenseCols+` FROM licenses WHERE id = ?`, id)
	created, err := scanLicense(row)
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return created, nil
}

func (s *LicenseStore) GetByToken(ctx context.Context, token string) (*model.License, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+licenseCols+` FROM licenses WHERE token = ?`, token)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("license: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get license by token: %w", err)
	}
	return l, nil
}

// Redeem flips the used flag and applies the quota grant in one transaction.
// The guarded UPDATE on is_used is the atomic check-and-set: of any set of
// concurrent redemptions for one token, exactly one commits.
func (s *LicenseStore) Redeem(ctx context.Context, token string, userID int64, now time.Time) (*model.License, error) {
	now = now.UTC()
	var redeemed *model.License
	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, `SELECT `+licenseCols+` FROM licenses WHERE token = ?`, token)
		lic, err := scanLicense(row)
		if err == sql.ErrNoRows {
			return fmt.Errorf("license: %w", storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get license by token: %w", err)
		}
		if lic.IsUsed {
			return fmt.Errorf("license %d: %w", lic.ID, storage.ErrAlreadyRedeemed)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE licenses SET is_used = 1, used_by = ?, used_at = ? WHERE id = ? AND is_used = 0`,
			userID, now, lic.ID,
		)
		if err != nil {
			return fmt.Errorf("mark license used: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("license %d: %w", lic.ID, storage.ErrAlreadyRedeemed)
		}

		var newEnd *time.Time
		if lic.DurationDays > 0 {
			e := now.AddDate(0, 0, lic.DurationDays)
			newEnd = &e
		}
		grant, err := grantQuota(ctx, tx, userID, lic.MessageLimit, newEnd, now)
		if err != nil {
			return fmt.Errorf("grant quota: %w", err)
		}
		if n, _ := grant.RowsAffected(); n == 0 {
			return fmt.Errorf("account %d: %w", userID, storage.ErrNotFound)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
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
