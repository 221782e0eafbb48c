package provider

import "sort"

// Mode is a chat preset pairing a system instruction with a default model.
type Mode struct {
	ID     string
	Name   string
	Prompt string
	Model  string
}

const DefaultModeID = "general"

var modes = map[string]Mode{
	"general": {
		ID:     "general",
		Name:   "General assistant",
		Prompt: "You are a helpful assistant. Answer concisely and accurately.",
	},
	"translator": {
		ID:     "translator",
		Name:   "Translator",
		Prompt: "You are a professional translator. Translate the user's text, preserving tone and meaning. If the target language is not stated, translate to English.",
	},
	"coder": {
		ID:     "coder",
		Name:   "Programming help",
		Prompt: "You are an experienced software engineer. Give working code and short explanations.",
	},
	"writer": {
		ID:     "writer",
		Name:   "Writing assistant",
		Prompt: "You help draft and edit text. Match the style the user asks for and keep their voice.",
	},
}

// ModeByID returns the mode for id, falling back to the default mode.
func ModeByID(id string) Mode {
	if m, ok := modes[id]; ok {
		return m
	}
	return modes[DefaultModeID]
}

// Modes lists all presets, sorted by id for stable display.
func Modes() []Mode {
	out := make([]Mode, 0, len(modes))
	for _, m := range modes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
