// Package conversation resolves active conversations and their ordered
// message history.
package conversation

import (
	"context"
	"errors"

	"github.com/dukerupert/chatledger/internal/model"
	"github.com/dukerupert/chatledger/internal/storage"
)

type Service struct {
	store storage.ConversationStore
}

func New(store storage.ConversationStore) *Service {
	return &Service{store: store}
}

// Active returns the most-recently-touched conversation for the user,
// scoped to themeID when non-nil, creating one lazily when none exists.
func (s *Service) Active(ctx context.Context, userID int64, themeID *int64) (*model.Conversation, error) {
	c, err := s.store.Active(ctx, userID, themeID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.store.Create(ctx, userID, themeID)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// New unconditionally starts a fresh conversation. Prior conversations are
// kept; recency redirects active lookups to the new one.
func (s *Service) New(ctx context.Context, userID int64, themeID *int64) (*model.Conversation, error) {
	return s.store.Create(ctx, userID, themeID)
}

func (s *Service) Append(ctx context.Context, conversationID, userID int64, content string, fromUser bool, modelUsed *string) (*model.Message, error) {
	return s.store.AppendMessage(ctx, conversationID, userID, content, fromUser, modelUsed)
}

// History returns up to limit messages in append order; callers use it to
// rebuild model context, so ordering is load-bearing.
func (s *Service) History(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	return s.store.History(ctx, conversationID, limit)
}

func (s *Service) CreateTheme(ctx context.Context, userID int64, name string) (*model.Theme, error) {
	return s.store.CreateTheme(ctx, userID, name)
}

func (s *Service) ListThemes(ctx context.Context, userID int64) ([]model.Theme, error) {
	return s.store.ListThemes(ctx, userID)
}

func (s *Service) ThemeByID(ctx context.Context, id int64) (*model.Theme, error) {
	return s.store.ThemeByID(ctx, id)
}
