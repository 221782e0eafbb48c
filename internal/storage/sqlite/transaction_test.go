package sqlite

import (
	"context"
	"testing"

	"github.com/dukerupert/chatledger/internal/model"
)

func TestTransactionRecordAndHistory(t *testing.T) {
	b := newTestBackend(t)
	ts := b.Transactions()
	ctx := context.Background()

	created, err := ts.Record(ctx, &model.CreditTransaction{
		UserID:      1,
		Type:        model.TransactionCredit,
		Amount:      100,
		Before:      5,
		After:       105,
		Description: "license redemption",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if created.ID == 0 {
		t.Error("id not assigned")
	}
	if created.Type != model.TransactionCredit {
		t.Errorf("type = %q, want credit", created.Type)
	}
	if created.Before != 5 || created.After != 105 {
		t.Errorf("before/after = %d/%d, want 5/105", created.Before, created.After)
	}

	if _, err := ts.Record(ctx, &model.CreditTransaction{
		UserID: 1, Type: model.TransactionDebit, Amount: 1, Before: 105, After: 104, Description: "assistant message",
	}); err != nil {
		t.Fatalf("record debit: %v", err)
	}
	if _, err := ts.Record(ctx, &model.CreditTransaction{
		UserID: 2, Type: model.TransactionDebit, Amount: 1, Before: 10, After: 9,
	}); err != nil {
		t.Fatalf("record other user: %v", err)
	}

	history, err := ts.History(ctx, 1, 50)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	// Newest first.
	if history[0].Type != model.TransactionDebit || history[1].Type != model.TransactionCredit {
		t.Errorf("order = %q, %q, want debit then credit", history[0].Type, history[1].Type)
	}

	limited, err := ts.History(ctx, 1, 1)
	if err != nil {
		t.Fatalf("limited history: %v", err)
	}
	if len(limited) != 1 || limited[0].Type != model.TransactionDebit {
		t.Errorf("limited = %+v", limited)
	}
}
