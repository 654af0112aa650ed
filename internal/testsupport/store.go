package testsupport

import (
	"path/filepath"
	"testing"

	"frames/internal/assets"
	"frames/internal/ledger"
)

// NewLedger opens a throwaway job ledger backed by a temp database.
func NewLedger(t testing.TB) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewAssets opens a throwaway asset catalog backed by a temp database.
func NewAssets(t testing.TB) *assets.Store {
	t.Helper()
	store, err := assets.Open(filepath.Join(t.TempDir(), "assets.db"))
	if err != nil {
		t.Fatalf("open assets: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
