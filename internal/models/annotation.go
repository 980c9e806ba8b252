// Package models defines the domain types for Marginalia.
package models

import "time"

// MaxContextLines is the number of surrounding source lines captured
// with an annotation at authoring time.
const MaxContextLines = 7

// Annotation is one author/text record attached to a single line of a
// source file. Identity is (file, line): at most one annotation per line.
type Annotation struct {
	Line             int       `json:"line"`
	Author           string    `json:"author"`
	Text             string    `json:"text"`
	Timestamp        time.Time `json:"timestamp"`
	Context          []string  `json:"context"`
	SourceSnapshot   string    `json:"source,omitempty"`
	SnapshotChecksum string    `json:"source_checksum,omitempty"`
}

// EditLock is an advisory record hinting that a user is composing an
// annotation on a line. It is not a mutex: a second lock on the same
// (file, line) is never rejected.
type EditLock struct {
	User       string    `json:"user"`
	File       string    `json:"file"`
	Line       int       `json:"line"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Expired reports whether the lock is older than ttl at the given instant.
func (l EditLock) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.AcquiredAt) > ttl
}

// AnnotatedFile is a lightweight listing entry for one annotated source file.
type AnnotatedFile struct {
	Project   string    `json:"project"`
	Path      string    `json:"path"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}
