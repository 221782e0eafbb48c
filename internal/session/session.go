// Package session holds per-user in-flight chat preferences: selected
// model, chat mode, and tip rotation state. State is explicit and scoped
// per user, reset when the user starts a fresh conversation.
package session

import "sync"

// Settings is one user's session state. Callers receive copies; mutate
// through Manager methods.
type Settings struct {
	Model        string
	Mode         string
	ShowTips     bool
	Interactions int
}

type Manager struct {
	mu       sync.Mutex
	defaults Settings
	sessions map[int64]*Settings
}

func NewManager(defaultModel, defaultMode string) *Manager {
	return &Manager{
		defaults: Settings{Model: defaultModel, Mode: defaultMode, ShowTips: true},
		sessions: make(map[int64]*Settings),
	}
}

func (m *Manager) get(userID int64) *Settings {
	s, ok := m.sessions[userID]
	if !ok {
		copied := m.defaults
		s = &copied
		m.sessions[userID] = s
	}
	return s
}

// Get returns a snapshot of the user's settings, materializing defaults
// on first use.
func (m *Manager) Get(userID int64) Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.get(userID)
}

func (m *Manager) SetModel(userID int64, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(userID).Model = model
}

func (m *Manager) SetMode(userID int64, mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(userID).Mode = mode
}

func (m *Manager) SetShowTips(userID int64, show bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(userID).ShowTips = show
}

// Touch increments and returns the user's interaction counter.
func (m *Manager) Touch(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(userID)
	s.Interactions++
	return s.Interactions
}

// Reset drops the user's session back to defaults.
func (m *Manager) Reset(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}
