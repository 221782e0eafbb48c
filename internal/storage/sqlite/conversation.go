package sqlite

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
	var fromUser int64
	var modelUsed sql.NullString
	err := scanner.Scan(
		&m.ID, &m.ConversationID, &m.UserID, &m.Content, &fromUser, &modelUsed, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.FromUser = fromUser != 0
	if modelUsed.Valid {
		m.ModelUsed = &modelUsed.String
	}
	return &m, nil
}

func scanTheme(scanner interface{ Scan(...any) error }) (*model.Theme, error) {
	var t model.Theme
	var isActive int64
	err := scanner.Scan(&t.ID, &t.UserID, &t.Name, &isActive, &t.CreatedAt, &t.LastUsedAt)
	if err != nil {
		return nil, err
	}
	t.IsActive = isActive != 0
	return &t, nil
}

const (
	conversationCols = `id, user_id, theme_id, created_at, last_message_at`
	messageCols      = `id, conversation_id, user_id, content, is_from_user, model_used, created_at`
	themeCols        = `id, user_id, name, is_active, created_at, last_used_at`
)

func (s *ConversationStore) Create(ctx context.Context, userID int64, themeID *int64) (*model.Conversation, error) {
	now := utcNow()
	var id int64
	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		result, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (user_id, theme_id, created_at, last_message_at) VALUES (?, ?, ?, ?)`,
			userID, themeID, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		if themeID != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE themes SET last_used_at = ? WHERE id = ?`, now, *themeID,
			); err != nil {
				return fmt.Errorf("touch theme: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *ConversationStore) Active(ctx context.Context, userID int64, themeID *int64) (*model.Conversation, error) {
	var row *sql.Row
	if themeID == nil {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+conversationCols+` FROM conversations
			 WHERE user_id = ? ORDER BY last_message_at DESC, id DESC LIMIT 1`,
			userID,
		)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+conversationCols+` FROM conversations
			 WHERE user_id = ? AND theme_id = ? ORDER BY last_message_at DESC, id DESC LIMIT 1`,
			userID, *themeID,
		)
	}
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active conversation for user %d: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active conversation: %w", err)
	}
	return c, nil
}

// AppendMessage inserts the message and bumps the recency columns as one
// transaction. last_message_at never moves backwards.
func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID, userID int64, content string, fromUser bool, modelUsed *string) (*model.Message, error) {
	now := utcNow()
	var id int64
	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		from := 0
		if fromUser {
			from = 1
		}
		result, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, user_id, content, is_from_user, model_used, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			conversationID, userID, content, from, modelUsed, now,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE conversations
			 SET last_message_at = CASE WHEN last_message_at > ? THEN last_message_at ELSE ? END
			 WHERE id = ?`,
			now, now, conversationID,
		)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("conversation %d: %w", conversationID, storage.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE themes SET last_used_at = ?
			 WHERE id = (SELECT theme_id FROM conversations WHERE id = ?)`,
			now, conversationID,
		); err != nil {
			return fmt.Errorf("touch theme: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+messageCols+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *ConversationStore) History(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (s *ConversationStore) CreateTheme(ctx context.Context, userID int64, name string) (*model.Theme, error) {
	now := utcNow()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO themes (user_id, name, is_active, created_at, last_used_at) VALUES (?, ?, 1, ?, ?)`,
		userID, name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert theme: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.ThemeByID(ctx, id)
}

func (s *ConversationStore) ListThemes(ctx context.Context, userID int64) ([]model.Theme, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+themeCols+` FROM themes
		 WHERE user_id = ? AND is_active = 1 ORDER BY last_used_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query themes: %w", err)
	}
	defer rows.Close()

	var out []model.Theme
	for rows.Next() {
		t, err := scanTheme(rows)
		if err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate themes: %w", err)
	}
	return out, nil
}

func (s *ConversationStore) ThemeByID(ctx context.Context, id int64) (*model.Theme, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+themeCols+` FROM themes WHERE id = ?`, id)
	t, err := scanTheme(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("theme %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get theme: %w", err)
	}
	return t, nil
}
