// Package ledger owns per-user balance state: subscription expiry and the
// countable message quota.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/chatledger/internal/model"
	"github.com/dukerupert/chatledger/internal/storage"
)

// ErrQuotaExceeded indicates the user holds no entitlement to send another
// message. User-visible, not a system fault.
var ErrQuotaExceeded = errors.New("message quota exceeded")

type Ledger struct {
	accounts storage.AccountStore
	now      func() time.Time
}

func New(accounts storage.AccountStore) *Ledger {
	return &Ledger{accounts: accounts, now: time.Now}
}

// GetOrCreate returns the account, inserting a fresh one with zero usage
// and zero limit on first contact.
func (l *Ledger) GetOrCreate(ctx context.Context, userID int64, p model.Profile) (*model.Account, error) {
	return l.accounts.GetOrCreate(ctx, userID, p)
}

// HasEntitlement reports whether either entitlement channel is open: an
// unexpired subscription or remaining message quota. Storage failures
// propagate so callers deny access rather than silently granting it.
func (l *Ledger) HasEntitlement(ctx context.Context, userID int64) (bool, error) {
	a, err := l.accounts.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check entitlement: %w", err)
	}
	return a.Entitled(l.now()), nil
}

// ConsumeOneMessage spends one message if entitlement holds at check time.
// The check and the increment are a single atomic row update in the backend.
func (l *Ledger) ConsumeOneMessage(ctx context.Context, userID int64) (bool, error) {
	return l.accounts.ConsumeMessage(ctx, userID, l.now())
}

// GrantQuota adds extra messages to the limit and, when newEnd is later
// than the current subscription end, extends it. An earlier newEnd never
// shortens an existing subscription.
func (l *Ledger) GrantQuota(ctx context.Context, userID int64, extra int64, newEnd *time.Time) error {
	return l.accounts.GrantQuota(ctx, userID, extra, newEnd)
}

// UsageSnapshot returns the account's current quota status. Missing
// accounts read as all zeroes.
func (l *Ledger) UsageSnapshot(ctx context.Context, userID int64) (model.Usage, error) {
	a, err := l.accounts.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Usage{}, nil
	}
	if err != nil {
		return model.Usage{}, fmt.Errorf("usage snapshot: %w", err)
	}
	return model.Usage{
		Limit:     a.MessagesLimit,
		Used:      a.MessagesUsed,
		Remaining: a.Remaining(),
	}, nil
}

// UpdateLanguage stores the user's preferred language string.
func (l *Ledger) UpdateLanguage(ctx context.Context, userID int64, language string) error {
	return l.accounts.UpdateLanguage(ctx, userID, language)
}
