package model

import "time"

// TransactionType distinguishes balance additions from spends.
type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// Profile holds the display metadata supplied by the chat transport.
// All fields are opaque to the engine.
type Profile struct {
	Username  *string `json:"username"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Language  *string `json:"language"`
}

type Account struct {
	ID              int64      `json:"id"`
	Username        *string    `json:"username"`
	FirstName       *string    `json:"first_name"`
	LastName        *string    `json:"last_name"`
	Language        *string    `json:"language"`
	SubscriptionEnd *time.Time `json:"subscription_end"`
	MessagesUsed    int64      `json:"messages_used"`
	MessagesLimit   int64      `json:"messages_limit"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Remaining returns the count-based quota still available.
func (a *Account) Remaining() int64 {
	if a.MessagesLimit <= a.MessagesUsed {
		return 0
	}
	return a.MessagesLimit - a.MessagesUsed
}

// Entitled reports whether the account may consume one more assistant
// message at the given instant: an unexpired subscription or remaining
// quota is sufficient.
func (a *Account) Entitled(now time.Time) bool {
	if a.SubscriptionEnd != nil && a.SubscriptionEnd.After(now) {
		return true
	}
	return a.MessagesUsed < a.MessagesLimit
}

type License struct {
	ID           int64      `json:"id"`
	Token        string     `json:"token"`
	DurationDays int        `json:"duration_days"`
	MessageLimit int64      `json:"message_limit"`
	Price        float64    `json:"price"`
	IsUsed       bool       `json:"is_used"`
	UsedBy       *int64     `json:"used_by"`
	UsedAt       *time.Time `json:"used_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

type Conversation struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	ThemeID       *int64    `json:"theme_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	Content        string    `json:"content"`
	FromUser       bool      `json:"is_from_user"`
	ModelUsed      *string   `json:"model_used"`
	CreatedAt      time.Time `json:"created_at"`
}

// Theme is a user-defined topic tag grouping conversations.
type Theme struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Name       string    `json:"name"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// CreditTransaction is one row of the append-only balance audit trail.
// Before and After record remaining messages around the mutation.
type CreditTransaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Type        TransactionType `json:"transaction_type"`
	Amount      int64           `json:"amount"`
	Before      int64           `json:"credits_before"`
	After       int64           `json:"credits_after"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Usage is a point-in-time snapshot of an account's quota.
type Usage struct {
	Limit     int64 `json:"messages_limit"`
	Used      int64 `json:"messages_used"`
	Remaining int64 `json:"messages_left"`
}
