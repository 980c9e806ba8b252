package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/marginalia/internal/apperr"
)

// DefaultOpTimeout bounds a single filesystem operation against a slow
// or wedged network mount.
const DefaultOpTimeout = 10 * time.Second

const tmpPattern = ".marginalia-tmp-*"

// FS implements Provider backed by the local file system.
type FS struct {
	root    string // absolute path to the storage root
	timeout time.Duration
}

// NewFS creates an FS provider rooted at the given directory, which must
// already exist. A timeout <= 0 falls back to DefaultOpTimeout.
func NewFS(root string, timeout time.Duration) (*FS, error) {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.Wrap(apperr.IOError, err, "resolve storage root %q", root)
	}
	fs := &FS{root: abs, timeout: timeout}
	var info os.FileInfo
	if err := fs.run("stat root", func() error {
		info, err = os.Stat(abs)
		return err
	}); err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, apperr.New(apperr.IOError, "storage root is not a directory: %s", abs)
	}
	return fs, nil
}

// Root returns the absolute storage root path.
func (f *FS) Root() string { return f.root }

// run executes op in a goroutine and gives up after the timeout, so a
// hung mount surfaces as a bounded IOError rather than a stuck process.
// The goroutine is abandoned on timeout; the process is short-lived.
func (f *FS) run(what string, op func() error) error {
	done := make(chan error, 1)
	go func() { done <- op() }()
	select {
	case err := <-done:
		if err != nil {
			return apperr.Wrap(apperr.IOError, err, "storage: %s: %v", what, err)
		}
		return nil
	case <-time.After(f.timeout):
		return apperr.New(apperr.IOError, "storage: %s timed out after %s (root %s)", what, f.timeout, f.root)
	}
}

// safeName resolves a file name against the root and rejects anything
// that escapes it (directory traversal).
func (f *FS) safeName(name string) (string, error) {
	if name == "" {
		return "", apperr.New(apperr.InvalidPath, "file name must not be empty")
	}
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) {
		return "", apperr.New(apperr.InvalidPath, "absolute names not allowed: %s", name)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", apperr.Wrap(apperr.IOError, err, "resolve %q", name)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", apperr.New(apperr.InvalidPath, "name escapes storage root: %s", name)
	}
	return abs, nil
}

// List returns every regular file at the top level of the root, temp
// files excluded.
func (f *FS) List() ([]FileInfo, error) {
	var out []FileInfo
	err := f.run("list", func() error {
		entries, err := os.ReadDir(f.root)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".marginalia-tmp-") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return err
			}
			out = append(out, FileInfo{
				Name:      e.Name(),
				Size:      info.Size(),
				UpdatedAt: info.ModTime(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Read returns the raw bytes of a root file.
func (f *FS) Read(name string) ([]byte, error) {
	abs, err := f.safeName(name)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = f.run(fmt.Sprintf("read %s", name), func() error {
		data, err = os.ReadFile(abs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write atomically replaces a root file: tmp file → fsync → rename.
// A crash mid-write leaves the prior version intact; readers never see
// a partial file.
func (f *FS) Write(name string, content []byte) error {
	abs, err := f.safeName(name)
	if err != nil {
		return err
	}
	return f.run(fmt.Sprintf("write %s", name), func() error {
		tmp, err := os.CreateTemp(f.root, tmpPattern)
		if err != nil {
			return err
		}
		tmpName := tmp.Name()

		// Clean up on any failure path.
		success := false
		defer func() {
			if !success {
				_ = tmp.Close()
				_ = os.Remove(tmpName)
			}
		}()

		if _, err := tmp.Write(content); err != nil {
			return err
		}
		if err := tmp.Sync(); err != nil {
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		if err := os.Rename(tmpName, abs); err != nil {
			return err
		}
		success = true
		return nil
	})
}

// Delete removes a file from the root.
func (f *FS) Delete(name string) error {
	abs, err := f.safeName(name)
	if err != nil {
		return err
	}
	return f.run(fmt.Sprintf("delete %s", name), func() error {
		return os.Remove(abs)
	})
}

// Reachable reports whether the root currently stats as a directory.
// Used by ping to distinguish "host alive" from "storage misconfigured".
func (f *FS) Reachable() bool {
	err := f.run("stat root", func() error {
		info, err := os.Stat(f.root)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return errors.New("not a directory")
		}
		return nil
	})
	return err == nil
}
