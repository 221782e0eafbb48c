package provider

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dukerupert/chatledger/internal/model"
)

func TestBuildMessages(t *testing.T) {
	req := Request{
		System: "You are a helpful assistant.",
		History: []model.Message{
			{Content: "hi", FromUser: true},
			{Content: "hello!", FromUser: false},
			{Content: "what's 2+2?", FromUser: true},
		},
	}

	msgs := buildMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != req.System {
		t.Errorf("msgs[0] = %+v, want the system prompt first", msgs[0])
	}
	wantRoles := []string{
		openai.ChatMessageRoleUser,
		openai.ChatMessageRoleAssistant,
		openai.ChatMessageRoleUser,
	}
	for i, role := range wantRoles {
		if msgs[i+1].Role != role {
			t.Errorf("msgs[%d].Role = %q, want %q", i+1, msgs[i+1].Role, role)
		}
	}
	if msgs[3].Content != "what's 2+2?" {
		t.Errorf("msgs[3].Content = %q", msgs[3].Content)
	}
}

func TestBuildMessagesNoSystem(t *testing.T) {
	msgs := buildMessages(Request{History: []model.Message{{Content: "hi", FromUser: true}}})
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleUser {
		t.Errorf("role = %q, want user", msgs[0].Role)
	}
}

func TestModeByID(t *testing.T) {
	if m := ModeByID("coder"); m.ID != "coder" {
		t.Errorf("mode = %+v, want coder", m)
	}
	// Unknown ids fall back to the default instead of erroring.
	if m := ModeByID("no-such-mode"); m.ID != DefaultModeID {
		t.Errorf("fallback mode = %q, want %q", m.ID, DefaultModeID)
	}
	if m := ModeByID(""); m.ID != DefaultModeID {
		t.Errorf("empty id mode = %q, want %q", m.ID, DefaultModeID)
	}
}

func TestModesSorted(t *testing.T) {
	ms := Modes()
	if len(ms) < 2 {
		t.Fatalf("modes = %d, want several", len(ms))
	}
	for i := 1; i < len(ms); i++ {
		if ms[i-1].ID >= ms[i].ID {
			t.Errorf("modes out of order: %q before %q", ms[i-1].ID, ms[i].ID)
		}
	}
	for _, m := range ms {
		if m.Prompt == "" {
			t.Errorf("mode %q has no prompt", m.ID)
		}
	}
}
