package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/chatledger/internal/model"
	"github.com/dukerupert/chatledger/internal/storage"
)

type ConversationStore struct {
	db *sql.DB
}

func scanConversation(scanner interface{ Scan(...any) error }) (*model.Conversation, error) {
	var c model.Conversation
	var themeID sql.NullInt64
	err := scanner.Scan(&c.ID, &c.UserID, &themeID, &c.CreatedAt, &c.LastMessageAt)
	if err != nil {
		return nil, err
	}
	if themeID.Valid {
		c.ThemeID = &themeID.Int64
	}
	return &c, nil
}

func scanMessage(scanner interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var modelUsed sql.NullString
	err := scanner.Scan(
		&m.ID, &m.ConversationID, &m.UserID, &m.Content, &m.FromUser, &modelUsed, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if modelUsed.Valid {
		m.ModelUsed = &modelUsed.String
	}
	return &m, nil
}

func scanTheme(scanner interface{ Scan(...any) error }) (*model.Theme, error) {
	var t model.Theme
	err := scanner.Scan(&t.ID, &t.UserID, &t.Name, &t.IsActive, &t.CreatedAt, &t.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const (
	conversationCols = `id, user_id, theme_id, created_at, last_message_at`
	messageCols      = `id, conversation_id, user_id, content, is_from_user, model_used, created_at`
	themeCols        = `id, user_id, name, is_active, created_at, last_used_at`
)

func (s *ConversationStore) Create(ctx context.Context, userID int64, themeID *int64) (*model.Conversation, error) {
	now := utcNow()
	var created *model.Conversation
	err := withTxRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return dbErr("begin", err)
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx,
			`INSERT INTO conversations (user_id, theme_id, created_at, last_message_at)
			 VALUES ($1, $2, $3, $3)
			 RETURNING `+conversationCols,
			userID, themeID, now,
		)
		created, err = scanConversation(row)
		if err != nil {
			return dbErr("insert conversation", err)
		}
		if themeID != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE themes SET last_used_at = $1 WHERE id = $2`, now, *themeID,
			); err != nil {
				return dbErr("touch theme", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return created, nil
}

func (s *ConversationStore) Active(ctx context.Context, userID int64, themeID *int64) (*model.Conversation, error) {
	var row *sql.Row
	if themeID == nil {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+conversationCols+` FROM conversations
			 WHERE user_id = $1 ORDER BY last_message_at DESC, id DESC LIMIT 1`,
			userID,
		)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+conversationCols+` FROM conversations
			 WHERE user_id = $1 AND theme_id = $2 ORDER BY last_message_at DESC, id DESC LIMIT 1`,
			userID, *themeID,
		)
	}
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active conversation for user %d: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get active conversation", err)
	}
	return c, nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID, userID int64, content string, fromUser bool, modelUsed *string) (*model.Message, error) {
	now := utcNow()
	var created *model.Message
	err := withTxRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return dbErr("begin", err)
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx,
			`INSERT INTO messages (conversation_id, user_id, content, is_from_user, model_used, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+messageCols,
			conversationID, userID, content, fromUser, modelUsed, now,
		)
		created, err = scanMessage(row)
		if err != nil {
			return dbErr("insert message", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE conversations
			 SET last_message_at = GREATEST(last_message_at, $1)
			 WHERE id = $2`,
			now, conversationID,
		)
		if err != nil {
			return dbErr("touch conversation", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("conversation %d: %w", conversationID, storage.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE themes SET last_used_at = $1
			 WHERE id = (SELECT theme_id FROM conversations WHERE id = $2)`,
			now, conversationID,
		); err != nil {
			return dbErr("touch theme", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return created, nil
}

func (s *ConversationStore) History(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, dbErr("query history", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, dbErr("scan message", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate history", err)
	}
	return out, nil
}

func (s *ConversationStore) CreateTheme(ctx context.Context, userID int64, name string) (*model.Theme, error) {
	now := utcNow()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO themes (user_id, name, is_active, created_at, last_used_at)
		 VALUES ($1, $2, TRUE, $3, $3)
		 RETURNING `+themeCols,
		userID, name, now,
	)
	t, err := scanTheme(row)
	if err != nil {
		return nil, dbErr("insert theme", err)
	}
	return t, nil
}

func (s *ConversationStore) ListThemes(ctx context.Context, userID int64) ([]model.Theme, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+themeCols+` FROM themes
		 WHERE user_id = $1 AND is_active ORDER BY last_used_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, dbErr("query themes", err)
	}
	defer rows.Close()

	var out []model.Theme
	for rows.Next() {
		t, err := scanTheme(rows)
		if err != nil {
			return nil, dbErr("scan theme", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate themes", err)
	}
	return out, nil
}

func (s *ConversationStore) ThemeByID(ctx context.Context, id int64) (*model.Theme, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+themeCols+` FROM themes WHERE id = $1`, id)
	t, err := scanTheme(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("theme %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, dbErr("get theme", err)
	}
	return t, nil
}
