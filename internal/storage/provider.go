// Package storage defines the storage-root file-system abstraction.
//
// A storage root may live on a network mount, so every operation runs
// under a bounded deadline and fails with a tagged IOError instead of
// hanging. Annotation files are flat (the path encoder folds directory
// structure into file names); only the shared coordination record and
// temp files sit beside them.
package storage

import "time"

// FileInfo describes one regular file at the top level of the root.
type FileInfo struct {
	Name      string
	Size      int64
	UpdatedAt time.Time
}

// Provider is the interface for storage-root file operations. All names
// are resolved relative to the root; traversal outside it is rejected.
type Provider interface {
	// List returns every regular file at the top level of the root.
	List() ([]FileInfo, error)
	// Read returns the raw bytes of the named file. A missing file
	// satisfies errors.Is(err, os.ErrNotExist).
	Read(name string) ([]byte, error)
	// Write atomically replaces the named file with content.
	Write(name string, content []byte) error
	// Delete removes the named file. Deleting a missing file is an error.
	Delete(name string) error
}
