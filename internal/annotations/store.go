// Package annotations owns the durable per-file annotation sets: atomic
// read, insert-or-replace, and delete of the annotations attached to one
// source file. Cross-process visibility comes purely from the filesystem;
// overlapping writers resolve last-writer-wins.
package annotations

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/checksum"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/pathenc"
	"github.com/starford/marginalia/internal/storage"
)

// FormatVersion is the on-disk annotation file format version.
const FormatVersion = 1

// file is the on-disk document holding one source file's annotations.
type file struct {
	Version     int                 `json:"version"`
	Project     string              `json:"project"`
	Path        string              `json:"path"`
	Annotations []models.Annotation `json:"annotations"`
}

// Store reads and mutates annotation sets under one storage root.
type Store struct {
	fs storage.Provider
}

// NewStore creates a Store over the given provider.
func NewStore(fs storage.Provider) *Store {
	return &Store{fs: fs}
}

// Read returns the annotations for (project, relativePath) ordered by
// line. A missing file yields an empty slice, not an error; an
// unreadable file is treated the same way (CorruptState is repaired by
// the next successful save).
func (s *Store) Read(project, relativePath string) ([]models.Annotation, error) {
	name, err := pathenc.Encode(project, relativePath)
	if err != nil {
		return nil, err
	}
	doc, err := s.load(name)
	if err != nil {
		if apperr.KindOf(err) == apperr.CorruptState {
			return []models.Annotation{}, nil
		}
		return nil, err
	}
	if doc == nil {
		return []models.Annotation{}, nil
	}
	return doc.Annotations, nil
}

// SaveInput carries the caller-supplied fields of one annotation.
type SaveInput struct {
	Line           int
	Author         string
	Text           string
	Context        []string
	SourceSnapshot string
}

// Save inserts or replaces the annotation at input.Line. The whole set
// is rewritten through a temp file and an atomic rename, so concurrent
// readers never observe a partial write.
func (s *Store) Save(project, relativePath string, input SaveInput) error {
	if input.Line < 1 {
		return apperr.New(apperr.ValidationError, "line must be >= 1, got %d", input.Line)
	}
	if strings.TrimSpace(input.Text) == "" {
		return apperr.New(apperr.ValidationError, "annotation text must not be empty")
	}
	name, err := pathenc.Encode(project, relativePath)
	if err != nil {
		return err
	}

	doc, err := s.load(name)
	if err != nil && apperr.KindOf(err) != apperr.CorruptState {
		return err
	}
	if doc == nil {
		doc = &file{Version: FormatVersion, Project: project, Path: relativePath}
	}

	ann := models.Annotation{
		Line:           input.Line,
		Author:         input.Author,
		Text:           input.Text,
		Context:        capContext(input.Context),
		SourceSnapshot: input.SourceSnapshot,
		Timestamp:      time.Now().UTC(),
	}
	if ann.SourceSnapshot != "" {
		ann.SnapshotChecksum = checksum.Sum([]byte(ann.SourceSnapshot))
	}

	replaced := false
	for i := range doc.Annotations {
		if doc.Annotations[i].Line == input.Line {
			doc.Annotations[i] = ann
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Annotations = append(doc.Annotations, ann)
	}
	sort.Slice(doc.Annotations, func(i, j int) bool {
		return doc.Annotations[i].Line < doc.Annotations[j].Line
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.IOError, err, "encode annotation file %s", name)
	}
	return s.fs.Write(name, data)
}

// Delete removes the annotation at line. A missing line or file is a
// no-op success; emptying the set removes the backing file.
func (s *Store) Delete(project, relativePath string, line int) error {
	name, err := pathenc.Encode(project, relativePath)
	if err != nil {
		return err
	}
	doc, err := s.load(name)
	if err != nil {
		if apperr.KindOf(err) == apperr.CorruptState {
			return nil
		}
		return err
	}
	if doc == nil {
		return nil
	}

	kept := doc.Annotations[:0]
	for _, a := range doc.Annotations {
		if a.Line != line {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(doc.Annotations) {
		return nil
	}
	if len(kept) == 0 {
		if err := s.fs.Delete(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	doc.Annotations = kept

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.IOError, err, "encode annotation file %s", name)
	}
	return s.fs.Write(name, data)
}

// List returns a summary of every annotated file under the root.
// Undecodable names and unreadable documents are skipped, not fatal.
func (s *Store) List() ([]models.AnnotatedFile, error) {
	infos, err := s.fs.List()
	if err != nil {
		return nil, err
	}
	out := []models.AnnotatedFile{}
	for _, info := range infos {
		project, rel, err := pathenc.Decode(info.Name)
		if err != nil {
			continue
		}
		doc, err := s.load(info.Name)
		if err != nil || doc == nil {
			continue
		}
		out = append(out, models.AnnotatedFile{
			Project:   project,
			Path:      rel,
			Count:     len(doc.Annotations),
			UpdatedAt: info.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// load reads and decodes one annotation file. Returns (nil, nil) when
// the file does not exist and a CorruptState error when it cannot be
// decoded.
func (s *Store) load(name string) (*file, error) {
	data, err := s.fs.Read(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var doc file
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperr.Wrap(apperr.CorruptState, err, "annotation file %s is unreadable", name)
	}
	if doc.Version != FormatVersion {
		return nil, apperr.New(apperr.CorruptState, "annotation file %s has unsupported version %d", name, doc.Version)
	}
	if doc.Annotations == nil {
		doc.Annotations = []models.Annotation{}
	}
	for i := range doc.Annotations {
		if doc.Annotations[i].Context == nil {
			doc.Annotations[i].Context = []string{}
		}
	}
	sort.Slice(doc.Annotations, func(i, j int) bool {
		return doc.Annotations[i].Line < doc.Annotations[j].Line
	})
	return &doc, nil
}

func capContext(ctx []string) []string {
	if ctx == nil {
		return []string{}
	}
	if len(ctx) > models.MaxContextLines {
		ctx = ctx[:models.MaxContextLines]
	}
	return ctx
}
