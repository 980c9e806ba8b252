// Package editlock keeps the advisory, time-expiring record of who is
// composing an annotation on which line. Records live in one shared
// coordination file on the storage root, so sibling processes (possibly
// on other machines) see them with no server and no shared memory.
//
// The registry is deliberately not a mutex: Start never rejects, even
// when two users mark the same line. Expiry is checked lazily on every
// read; a process whose lifetime is one caller session needs no timer.
package editlock

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/storage"
)

// RecordName is the shared coordination file at the storage root. It can
// never collide with an annotation file: every encoded annotation name
// contains a separator token.
const RecordName = "editors.json"

// DefaultTTL is how long an edit marker stays visible without being
// refreshed by the caller's periodic polling.
const DefaultTTL = 10 * time.Minute

// record is the on-disk coordination document.
type record struct {
	Version int               `json:"version"`
	Editors []models.EditLock `json:"editors"`
}

// Registry reads and mutates the coordination record under one root.
type Registry struct {
	fs  storage.Provider
	ttl time.Duration
	now func() time.Time
}

// NewRegistry creates a Registry. A ttl <= 0 falls back to DefaultTTL.
func NewRegistry(fs storage.Provider, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{fs: fs, ttl: ttl, now: time.Now}
}

// Start writes or replaces the single edit marker for user. Favors
// availability: a corrupt record is repaired by overwrite rather than
// reported.
func (r *Registry) Start(user, file string, line int) error {
	if user == "" {
		return apperr.New(apperr.ValidationError, "user must not be empty")
	}
	locks := r.live()
	kept := []models.EditLock{}
	for _, l := range locks {
		if l.User != user {
			kept = append(kept, l)
		}
	}
	kept = append(kept, models.EditLock{
		User:       user,
		File:       file,
		Line:       line,
		AcquiredAt: r.now().UTC(),
	})
	return r.write(kept)
}

// Stop clears user's edit marker. Clearing an absent marker succeeds.
func (r *Registry) Stop(user string) error {
	if user == "" {
		return apperr.New(apperr.ValidationError, "user must not be empty")
	}
	locks := r.live()
	kept := []models.EditLock{}
	for _, l := range locks {
		if l.User != user {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(locks) {
		return nil
	}
	return r.write(kept)
}

// Editing returns all non-expired edit markers, sorted by user. Expired
// entries are filtered read-side only; nothing is rewritten on disk.
func (r *Registry) Editing() ([]models.EditLock, error) {
	locks := r.live()
	sort.Slice(locks, func(i, j int) bool { return locks[i].User < locks[j].User })
	return locks, nil
}

// live loads the record and drops expired entries. Any read or decode
// failure yields an empty set: hints are not worth failing a request
// over, and the next Start/Stop rewrites the whole record.
func (r *Registry) live() []models.EditLock {
	data, err := r.fs.Read(RecordName)
	if err != nil {
		return []models.EditLock{}
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return []models.EditLock{}
	}
	now := r.now()
	out := []models.EditLock{}
	for _, l := range rec.Editors {
		if !l.Expired(now, r.ttl) {
			out = append(out, l)
		}
	}
	return out
}

func (r *Registry) write(locks []models.EditLock) error {
	data, err := json.MarshalIndent(record{Version: 1, Editors: locks}, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.IOError, err, "encode coordination record")
	}
	return r.fs.Write(RecordName, data)
}
