package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dukerupert/chatledger/internal/storage"
)

func TestConversationCreateAndActive(t *testing.T) {
	b := newTestBackend(t)
	cs := b.Conversations()
	ctx := context.Background()

	if _, err := cs.Active(ctx, 1, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("active with no conversations err = %v, want ErrNotFound", err)
	}

	first, err := cs.Create(ctx, 1, nil)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := cs.Create(ctx, 1, nil)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	// With no messages yet the newer conversation wins.
	active, err := cs.Active(ctx, 1, nil)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active = %d, want %d", active.ID, second.ID)
	}

	// A message in the older conversation makes it the most recent.
	if _, err := cs.AppendMessage(ctx, first.ID, 1, "hello", true, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	active, err = cs.Active(ctx, 1, nil)
	if err != nil {
		t.Fatalf("active after append: %v", err)
	}
	if active.ID != first.ID {
		t.Errorf("active = %d, want %d", active.ID, first.ID)
	}

	// Other users never see it.
	if _, err := cs.Active(ctx, 2, nil); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other user's active err = %v, want ErrNotFound", err)
	}
}

func TestConversationActiveScopedByTheme(t *testing.T) {
	b := newTestBackend(t)
	cs := b.Conversations()
	ctx := context.Background()

	theme, err := cs.CreateTheme(ctx, 1, "work")
	if err != nil {
		t.Fatalf("create theme: %v", err)
	}
	themed, err := cs.Create(ctx, 1, &theme.ID)
	if err != nil {
		t.Fatalf("create themed: %v", err)
	}
	plain, err := cs.Create(ctx, 1, nil)
	if err != nil {
		t.Fatalf("create plain: %v", err)
	}

	active, err := cs.Active(ctx, 1, &theme.ID)
	if err != nil {
		t.Fatalf("active scoped: %v", err)
	}
	if active.ID != themed.ID {
		t.Errorf("scoped active = %d, want %d", active.ID, themed.ID)
	}

	// Unscoped lookup crosses themes and picks the newest overall.
	active, err = cs.Active(ctx, 1, nil)
	if err != nil {
		t.Fatalf("active unscoped: %v", err)
	}
	if active.ID != plain.ID {
		t.Errorf("unscoped active = %d, want %d", active.ID, plain.ID)
	}
}

func TestAppendMessageAndHistory(t *testing.T) {
	b := newTestBackend(t)
	cs := b.Conversations()
	ctx := context.Background()

	conv, err := cs.Create(ctx, 1, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	gpt := "gpt-4o-mini"
	for i := 0; i < 3; i++ {
		if _, err := cs.AppendMessage(ctx, conv.ID, 1, fmt.Sprintf("q%d", i), true, nil); err != nil {
			t.Fatalf("append user %d: %v", i, err)
		}
		if _, err := cs.AppendMessage(ctx, conv.ID, 1, fmt.Sprintf("a%d", i), false, &gpt); err != nil {
			t.Fatalf("append assistant %d: %v", i, err)
		}
	}

	history, err := cs.History(ctx, conv.ID, 100)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("history length = %d, want 6", len(history))
	}
	want := []string{"q0", "a0", "q1", "a1", "q2", "a2"}
	for i, m := range history {
		if m.Content != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, m.Content, want[i])
		}
		if m.FromUser != (i%2 == 0) {
			t.Errorf("history[%d].FromUser = %v", i, m.FromUser)
		}
	}
	if history[1].ModelUsed == nil || *history[1].ModelUsed != gpt {
		t.Errorf("assistant model = %v, want %q", history[1].ModelUsed, gpt)
	}

	limited, err := cs.History(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("limited history: %v", err)
	}
	if len(limited) != 2 || limited[0].Content != "q0" {
		t.Errorf("limited history = %v", limited)
	}

	conv2, err := cs.Active(ctx, 1, nil)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if !conv2.LastMessageAt.After(conv.LastMessageAt) {
		t.Errorf("last_message_at not advanced: %v -> %v", conv.LastMessageAt, conv2.LastMessageAt)
	}
}

func TestAppendMessageMissingConversation(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.Conversations().AppendMessage(context.Background(), 999, 1, "hi", true, nil)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestThemes(t *testing.T) {
	b := newTestBackend(t)
	cs := b.Conversations()
	ctx := context.Background()

	work, err := cs.CreateTheme(ctx, 1, "work")
	if err != nil {
		t.Fatalf("create theme: %v", err)
	}
	if work.Name != "work" || !work.IsActive {
		t.Errorf("theme = %+v", work)
	}
	home, err := cs.CreateTheme(ctx, 1, "home")
	if err != nil {
		t.Fatalf("create theme: %v", err)
	}
	if _, err := cs.CreateTheme(ctx, 2, "other-user"); err != nil {
		t.Fatalf("create theme: %v", err)
	}

	themes, err := cs.ListThemes(ctx, 1)
	if err != nil {
		t.Fatalf("list themes: %v", err)
	}
	if len(themes) != 2 {
		t.Fatalf("themes = %d, want 2", len(themes))
	}
	if themes[0].ID != home.ID {
		t.Errorf("themes[0] = %d, want most recently used %d", themes[0].ID, home.ID)
	}

	// Appending to a themed conversation bumps the theme's recency.
	conv, err := cs.Create(ctx, 1, &work.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := cs.AppendMessage(ctx, conv.ID, 1, "hi", true, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	themes, err = cs.ListThemes(ctx, 1)
	if err != nil {
		t.Fatalf("list themes: %v", err)
	}
	if themes[0].ID != work.ID {
		t.Errorf("themes[0] = %d, want %d after append", themes[0].ID, work.ID)
	}

	if _, err := cs.ThemeByID(ctx, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing theme err = %v, want ErrNotFound", err)
	}
}
