package testsupport

import (
	"testing"

	"nixupload/internal/config"
	"nixupload/internal/history"
)

// MustOpenHistory opens the history ledger for cfg and registers cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.OpenWriter(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.OpenWriter: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
