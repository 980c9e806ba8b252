// Package testutil provides shared test helpers for setting up storage roots.
package testutil

import (
	"testing"
	"time"

	"github.com/starford/marginalia/internal/annotations"
	"github.com/starford/marginalia/internal/editlock"
	"github.com/starford/marginalia/internal/storage"
)

// TestRoot creates a temporary storage root with an FS provider.
func TestRoot(t *testing.T) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	fs, err := storage.NewFS(root, 0)
	if err != nil {
		t.Fatal(err)
	}
	return root, fs
}

// TestStore creates an annotation store over a temporary root.
func TestStore(t *testing.T) (string, *annotations.Store) {
	t.Helper()
	root, fs := TestRoot(t)
	return root, annotations.NewStore(fs)
}

// TestRegistry creates a lock registry over a temporary root.
func TestRegistry(t *testing.T, ttl time.Duration) (string, *editlock.Registry) {
	t.Helper()
	root, fs := TestRoot(t)
	return root, editlock.NewRegistry(fs, ttl)
}
