// Package license manages creation and one-time redemption of prepaid
// license tokens.
package license

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/chatledger/internal/audit"
	"github.com/dukerupert/chatledger/internal/model"
	"github.com/dukerupert/chatledger/internal/storage"
)

// RedemptionResult reports the outcome of a redemption attempt. OK is
// false for unknown and already-used tokens alike; both are benign.
type RedemptionResult struct {
	OK                 bool       `json:"ok"`
	GrantedMessages    int64      `json:"granted_messages"`
	NewSubscriptionEnd *time.Time `json:"new_subscription_end,omitempty"`
}

type Registry struct {
	licenses storage.LicenseStore
	accounts storage.AccountStore
	audit    *audit.Log
	now      func() time.Time
}

func New(licenses storage.LicenseStore, accounts storage.AccountStore, auditLog *audit.Log) *Registry {
	return &Registry{licenses: licenses, accounts: accounts, audit: auditLog, now: time.Now}
}

// generateToken creates a license token in the format CL-XXXX-XXXX-XXXX-XXXX.
func generateToken() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	h := strings.ToUpper(hex.EncodeToString(b))
	return fmt.Sprintf("CL-%s-%s-%s-%s", h[0:4], h[4:8], h[8:12], h[12:16]), nil
}

// Issue creates an unused license granting messageLimit messages and,
// when durationDays > 0, that many days of subscription time on redemption.
func (r *Registry) Issue(ctx context.Context, messageLimit int64, price float64, durationDays int) (*model.License, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	return r.licenses.Insert(ctx, &model.License{
		Token:        token,
		DurationDays: durationDays,
		MessageLimit: messageLimit,
		Price:        price,
	})
}

// Get looks a license up by token.
func (r *Registry) Get(ctx context.Context, token string) (*model.License, error) {
	return r.licenses.GetByToken(ctx, token)
}

// Redeem consumes the license for the user. The used-flag flip and the
// quota grant commit as one backend transaction; an audit credit is
// recorded afterwards (non-fatal if it cannot be).
func (r *Registry) Redeem(ctx context.Context, userID int64, token string) (*RedemptionResult, error) {
	now := r.now().UTC()
	lic, err := r.licenses.Redeem(ctx, token, userID, now)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAlreadyRedeemed) {
		return &RedemptionResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &RedemptionResult{OK: true, GrantedMessages: lic.MessageLimit}
	if lic.DurationDays > 0 {
		end := now.AddDate(0, 0, lic.DurationDays)
		result.NewSubscriptionEnd = &end
	}

	if acct, err := r.accounts.Get(ctx, userID); err == nil {
		after := acct.Remaining()
		r.audit.Credit(ctx, userID, lic.MessageLimit, after-lic.MessageLimit, after, "license redemption")
		if acct.SubscriptionEnd != nil && result.NewSubscriptionEnd != nil {
			// The stored end wins when a longer subscription was already running.
			result.NewSubscriptionEnd = acct.SubscriptionEnd
		}
	}

	return result, nil
}
