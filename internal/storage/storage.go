package storage

import (
	"context"
	"time"

	"github.com/dukerupert/chatledger/internal/model"
)

// Backend is the narrow contract both persistence implementations satisfy.
// Callers hold only transient snapshots of rows; every read is a fresh query.
type Backend interface {
	Accounts() AccountStore
	Licenses() LicenseStore
	Conversations() ConversationStore
	Transactions() TransactionStore
	Close() error
}

// AccountStore owns per-user balance state. All balance mutations are
// single-row atomic read-modify-writes; no caller-side compute-then-write.
type AccountStore interface {
	// GetOrCreate returns the existing account or inserts a fresh one with
	// zero usage and zero limit. Concurrent calls for the same unseen id
	// must not create duplicates: the insert races-loses gracefully and
	// re-reads on conflict.
	GetOrCreate(ctx context.Context, id int64, p model.Profile) (*model.Account, error)

	// Get returns ErrNotFound when the account does not exist.
	Get(ctx context.Context, id int64) (*model.Account, error)

	UpdateLanguage(ctx context.Context, id int64, language string) error

	// ConsumeMessage increments messages_used by one if and only if the
	// account is entitled at now. Returns false without change otherwise.
	ConsumeMessage(ctx context.Context, id int64, now time.Time) (bool, error)

	// GrantQuota adds extra to messages_limit. A non-nil newEnd replaces
	// the subscription end only when later than the existing one.
	GrantQuota(ctx context.Context, id int64, extra int64, newEnd *time.Time) error
}

type LicenseStore interface {
	Insert(ctx context.Context, lic *model.License) (*model.License, error)

	// GetByToken returns ErrNotFound for unknown tokens.
	GetByToken(ctx context.Context, token string) (*model.License, error)

	// Redeem marks the license used by userID and applies its quota grant
	// to the account inside one transaction. Exactly one of any set of
	// concurrent calls for the same token succeeds; the rest get
	// ErrAlreadyRedeemed. Unknown tokens yield ErrNotFound, and a missing
	// account aborts the whole transaction.
	Redeem(ctx context.Context, token string, userID int64, now time.Time) (*model.License, error)
}

type ConversationStore interface {
	// Create starts a fresh conversation, optionally under a theme.
	Create(ctx context.Context, userID int64, themeID *int64) (*model.Conversation, error)

	// Active returns the conversation with the greatest last_message_at
	// for the user (scoped to themeID when non-nil), or ErrNotFound.
	Active(ctx context.Context, userID int64, themeID *int64) (*model.Conversation, error)

	// AppendMessage inserts the message and bumps the parent conversation's
	// last_message_at (and the theme's last_used_at) as one transaction, so
	// no appended message is invisible to recency lookups.
	AppendMessage(ctx context.Context, conversationID, userID int64, content string, fromUser bool, modelUsed *string) (*model.Message, error)

	// History returns up to limit messages ascending by created_at,
	// insertion order breaking ties.
	History(ctx context.Context, conversationID int64, limit int) ([]model.Message, error)

	CreateTheme(ctx context.Context, userID int64, name string) (*model.Theme, error)
	ListThemes(ctx context.Context, userID int64) ([]model.Theme, error)
	ThemeByID(ctx context.Context, id int64) (*model.Theme, error)
}

// TransactionStore is the append-only audit trail of balance mutations.
type TransactionStore interface {
	Record(ctx context.Context, tx *model.CreditTransaction) (*model.CreditTransaction, error)

	// History returns up to limit transactions, newest first.
	History(ctx context.Context, userID int64, limit int) ([]model.CreditTransaction, error)
}
