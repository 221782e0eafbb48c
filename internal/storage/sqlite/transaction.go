package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/chatledger/internal/model"
)

type TransactionStore struct {
	db *sql.DB
}

func scanTransaction(scanner interface{ Scan(...any) error }) (*model.CreditTransaction, error) {
	var t model.CreditTransaction
	var desc sql.NullString
	err := scanner.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Before, &t.After, &desc, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	return &t, nil
}

const transactionCols = `id, user_id, transaction_type, amount, credits_before, credits_after, description, created_at`

func (s *TransactionStore) Record(ctx context.Context, tx *model.CreditTransaction) (*model.CreditTransaction, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_transactions (user_id, transaction_type, amount, credits_before, credits_after, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.UserID, string(tx.Type), tx.Amount, tx.Before, tx.After, tx.Description, utcNow(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionCols+` FROM credit_transactions WHERE id = ?`, id)
	created, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return created, nil
}

func (s *TransactionStore) History(ctx context.Context, userID int64, limit int) ([]model.CreditTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionCols+` FROM credit_transactions
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []model.CreditTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}
