package sqlite

import (
	"path/filepath"
	"testing"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// newFileBackend backs the database with a real file so concurrent
// connections see the same data.
func newFileBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}
