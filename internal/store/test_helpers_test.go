package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/sadhana/internal/daykey"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testClock is frozen on 2024-02-05 local time.
func testClock() *daykey.FixedClock {
	return daykey.NewFixedClockAt("2024-02-05")
}
