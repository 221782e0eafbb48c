package session

import (
	"sync"
	"testing"
)

func TestDefaults(t *testing.T) {
	m := NewManager("gpt-4o-mini", "general")

	s := m.Get(1)
	if s.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want default", s.Model)
	}
	if s.Mode != "general" {
		t.Errorf("mode = %q, want default", s.Mode)
	}
	if !s.ShowTips {
		t.Error("tips off by default")
	}
	if s.Interactions != 0 {
		t.Errorf("interactions = %d, want 0", s.Interactions)
	}
}

func TestSettersAreScopedPerUser(t *testing.T) {
	m := NewManager("gpt-4o-mini", "general")

	m.SetModel(1, "gpt-4o")
	m.SetMode(1, "coder")
	m.SetShowTips(1, false)

	s := m.Get(1)
	if s.Model != "gpt-4o" || s.Mode != "coder" || s.ShowTips {
		t.Errorf("settings = %+v", s)
	}

	other := m.Get(2)
	if other.Model != "gpt-4o-mini" || other.Mode != "general" || !other.ShowTips {
		t.Errorf("other user inherited settings: %+v", other)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewManager("gpt-4o-mini", "general")

	s := m.Get(1)
	s.Model = "scribbled"
	if m.Get(1).Model != "gpt-4o-mini" {
		t.Error("mutating the snapshot leaked into the manager")
	}
}

func TestTouchAndReset(t *testing.T) {
	m := NewManager("gpt-4o-mini", "general")

	for want := 1; want <= 3; want++ {
		if got := m.Touch(1); got != want {
			t.Errorf("touch = %d, want %d", got, want)
		}
	}
	m.SetMode(1, "coder")

	m.Reset(1)
	s := m.Get(1)
	if s.Interactions != 0 || s.Mode != "general" {
		t.Errorf("settings after reset = %+v", s)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := NewManager("gpt-4o-mini", "general")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.Touch(int64(n % 5))
			m.SetMode(int64(n%5), "coder")
			_ = m.Get(int64(n % 5))
		}(i)
	}
	wg.Wait()

	total := 0
	for id := int64(0); id < 5; id++ {
		total += m.Get(id).Interactions
	}
	if total != 50 {
		t.Errorf("total interactions = %d, want 50", total)
	}
}
