// Package storetest opens throwaway stores for tests in other packages.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/roach88/chronicle/internal/store"
)

// Open creates a store in a per-test temp directory and closes it on cleanup.
func Open(t testing.TB) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
