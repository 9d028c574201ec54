// Package testutil provides shared test helpers for setting up stores and fake repositories.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/veland/gitatlas/internal/models"
	"github.com/veland/gitatlas/internal/store"
)

// TestStore creates a store backed by a temporary directory that is
// automatically cleaned up.
func TestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

// TestRepo returns a repository record with deterministic fields for the
// given path.
func TestRepo(path string) models.Repository {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.Repository{
		Name:          filepath.Base(path),
		Path:          path,
		SizeMB:        12.5,
		FileTypes:     map[string]int{"go": 10, "md": 2},
		CurrentBranch: "main",
		Branches:      []string{"main"},
		CommitCount:   42,
		LastAnalyzed:  now,
		IsValid:       true,
	}
}

// FakeCheckout creates a directory containing a .git marker, so the
// store's validation and the scanner's discovery both treat it as a
// repository. Returns the directory path.
func FakeCheckout(t *testing.T, parent, name string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}
