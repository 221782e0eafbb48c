// Package audit maintains the append-only trail of balance mutations.
// The audited quantity is remaining messages, not the raw limit.
package audit

import (
	"context"
	"log/slog"

	"github.com/dukerupert/chatledger/internal/model"
	"github.com/dukerupert/chatledger/internal/storage"
)

type Log struct {
	store  storage.TransactionStore
	logger *slog.Logger
}

func New(store storage.TransactionStore, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, logger: logger}
}

// Credit records a balance addition. Audit writes never fail the caller's
// primary operation: the ledger mutation has already committed, so a failed
// write is reported and dropped.
func (l *Log) Credit(ctx context.Context, userID, amount, before, after int64, description string) {
	l.record(ctx, model.TransactionCredit, userID, amount, before, after, description)
}

// Debit records a balance spend. Same non-fatal contract as Credit.
func (l *Log) Debit(ctx context.Context, userID, amount, before, after int64, description string) {
	l.record(ctx, model.TransactionDebit, userID, amount, before, after, description)
}

func (l *Log) record(ctx context.Context, typ model.TransactionType, userID, amount, before, after int64, description string) {
	_, err := l.store.Record(ctx, &model.CreditTransaction{
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Before:      before,
		After:       after,
		Description: description,
	})
	if err != nil {
		l.logger.Error("record credit transaction",
			"user_id", userID, "type", typ, "amount", amount, "error", err)
	}
}

// History returns up to limit transactions for the user, newest first.
func (l *Log) History(ctx context.Context, userID int64, limit int) ([]model.CreditTransaction, error) {
	return l.store.History(ctx, userID, limit)
}
