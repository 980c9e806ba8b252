package annotations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/pathenc"
	"github.com/starford/marginalia/internal/storage"
)

func tempStore(t *testing.T) (string, *Store) {
	t.Helper()
	root := t.TempDir()
	fs, err := storage.NewFS(root, 0)
	if err != nil {
		t.Fatal(err)
	}
	return root, NewStore(fs)
}

func TestSaveThenRead(t *testing.T) {
	_, s := tempStore(t)

	err := s.Save("demo", "a/b.c", SaveInput{Line: 10, Author: "alice", Text: "why here?"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	anns, err := s.Read("demo", "a/b.c")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(anns) != 1 {
		t.Fatalf("len = %d, want 1", len(anns))
	}
	a := anns[0]
	if a.Line != 10 || a.Author != "alice" || a.Text != "why here?" {
		t.Errorf("annotation = %+v", a)
	}
	if a.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if a.Context == nil {
		t.Error("context should default to empty, not nil")
	}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	_, s := tempStore(t)
	anns, err := s.Read("demo", "never/saved.go")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(anns) != 0 {
		t.Errorf("len = %d, want 0", len(anns))
	}
}

func TestSaveReplacesSameLine(t *testing.T) {
	_, s := tempStore(t)
	_ = s.Save("demo", "f.go", SaveInput{Line: 5, Author: "alice", Text: "first"})
	if err := s.Save("demo", "f.go", SaveInput{Line: 5, Author: "bob", Text: "second"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	anns, _ := s.Read("demo", "f.go")
	if len(anns) != 1 {
		t.Fatalf("len = %d, want 1 (replace, not duplicate)", len(anns))
	}
	if anns[0].Author != "bob" || anns[0].Text != "second" {
		t.Errorf("annotation = %+v, want the second write", anns[0])
	}
}

func TestReadOrderedByLine(t *testing.T) {
	_, s := tempStore(t)
	for _, line := range []int{42, 3, 17} {
		if err := s.Save("demo", "f.go", SaveInput{Line: line, Author: "a", Text: "t"}); err != nil {
			t.Fatal(err)
		}
	}
	anns, _ := s.Read("demo", "f.go")
	if len(anns) != 3 {
		t.Fatalf("len = %d, want 3", len(anns))
	}
	for i, want := range []int{3, 17, 42} {
		if anns[i].Line != want {
			t.Errorf("anns[%d].Line = %d, want %d", i, anns[i].Line, want)
		}
	}
}

func TestSaveValidation(t *testing.T) {
	_, s := tempStore(t)

	err := s.Save("demo", "f.go", SaveInput{Line: 1, Author: "a", Text: "   "})
	if err == nil || !apperr.IsKind(err, apperr.ValidationError) {
		t.Errorf("empty text: err = %v, want ValidationError", err)
	}
	err = s.Save("demo", "f.go", SaveInput{Line: 0, Author: "a", Text: "x"})
	if err == nil || !apperr.IsKind(err, apperr.ValidationError) {
		t.Errorf("line 0: err = %v, want ValidationError", err)
	}
	err = s.Save("demo", "../f.go", SaveInput{Line: 1, Author: "a", Text: "x"})
	if err == nil || apperr.KindOf(err) != apperr.InvalidPath {
		t.Errorf("traversal: err = %v, want InvalidPath", err)
	}
}

func TestContextCapped(t *testing.T) {
	_, s := tempStore(t)
	ctx := make([]string, models.MaxContextLines+3)
	for i := range ctx {
		ctx[i] = "line"
	}
	_ = s.Save("demo", "f.go", SaveInput{Line: 1, Author: "a", Text: "x", Context: ctx})
	anns, _ := s.Read("demo", "f.go")
	if len(anns[0].Context) != models.MaxContextLines {
		t.Errorf("context len = %d, want %d", len(anns[0].Context), models.MaxContextLines)
	}
}

func TestSnapshotChecksum(t *testing.T) {
	_, s := tempStore(t)
	_ = s.Save("demo", "f.go", SaveInput{Line: 1, Author: "a", Text: "x", SourceSnapshot: "package main\n"})
	anns, _ := s.Read("demo", "f.go")
	if anns[0].SnapshotChecksum == "" {
		t.Error("snapshot checksum not recorded")
	}

	_ = s.Save("demo", "g.go", SaveInput{Line: 1, Author: "a", Text: "x"})
	anns, _ = s.Read("demo", "g.go")
	if anns[0].SnapshotChecksum != "" {
		t.Error("checksum recorded without a snapshot")
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	_, s := tempStore(t)
	_ = s.Save("demo", "f.go", SaveInput{Line: 1, Author: "a", Text: "keep"})

	if err := s.Delete("demo", "f.go", 99); err != nil {
		t.Fatalf("Delete absent line: %v", err)
	}
	if err := s.Delete("demo", "never.go", 1); err != nil {
		t.Fatalf("Delete absent file: %v", err)
	}

	anns, _ := s.Read("demo", "f.go")
	if len(anns) != 1 {
		t.Errorf("other annotations disturbed: len = %d", len(anns))
	}
}

func TestDeleteLastRemovesFile(t *testing.T) {
	root, s := tempStore(t)
	_ = s.Save("demo", "a/b.c", SaveInput{Line: 10, Author: "alice", Text: "why here?"})

	name, err := pathenc.Encode("demo", "a/b.c")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, name)); err != nil {
		t.Fatalf("annotation file missing after save: %v", err)
	}

	if err := s.Delete("demo", "a/b.c", 10); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, name)); !os.IsNotExist(err) {
		t.Error("backing file should be removed with its last annotation")
	}
	anns, _ := s.Read("demo", "a/b.c")
	if len(anns) != 0 {
		t.Errorf("len = %d, want 0", len(anns))
	}
}

func TestCorruptFileTreatedAsEmptyAndRepaired(t *testing.T) {
	root, s := tempStore(t)
	name, _ := pathenc.Encode("demo", "f.go")
	_ = os.WriteFile(filepath.Join(root, name), []byte("{not json"), 0o644)

	anns, err := s.Read("demo", "f.go")
	if err != nil {
		t.Fatalf("Read of corrupt file: %v", err)
	}
	if len(anns) != 0 {
		t.Errorf("corrupt file should read as empty, got %d", len(anns))
	}

	// The next save repairs the file by overwrite.
	if err := s.Save("demo", "f.go", SaveInput{Line: 2, Author: "a", Text: "repaired"}); err != nil {
		t.Fatalf("Save over corrupt file: %v", err)
	}
	anns, err = s.Read("demo", "f.go")
	if err != nil || len(anns) != 1 {
		t.Fatalf("after repair: anns = %v, err = %v", anns, err)
	}
}

func TestConcurrentSavesOnDistinctLines(t *testing.T) {
	// Two stores over the same root simulate two processes sharing a
	// network mount. Saves on distinct lines of the same file must both
	// persist when they do not interleave.
	root, s1 := tempStore(t)
	fs2, err := storage.NewFS(root, 0)
	if err != nil {
		t.Fatal(err)
	}
	s2 := NewStore(fs2)

	if err := s1.Save("demo", "f.go", SaveInput{Line: 1, Author: "alice", Text: "one"}); err != nil {
		t.Fatal(err)
	}
	if err := s2.Save("demo", "f.go", SaveInput{Line: 2, Author: "bob", Text: "two"}); err != nil {
		t.Fatal(err)
	}

	anns, _ := s1.Read("demo", "f.go")
	if len(anns) != 2 {
		t.Fatalf("len = %d, want 2 (no lost update across lines)", len(anns))
	}
}

func TestList(t *testing.T) {
	_, s := tempStore(t)
	_ = s.Save("demo", "a.go", SaveInput{Line: 1, Author: "a", Text: "x"})
	_ = s.Save("demo", "a.go", SaveInput{Line: 2, Author: "a", Text: "y"})
	_ = s.Save("other", "b/c.go", SaveInput{Line: 7, Author: "b", Text: "z"})

	files, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len = %d, want 2", len(files))
	}
	if files[0].Project != "demo" || files[0].Path != "a.go" || files[0].Count != 2 {
		t.Errorf("files[0] = %+v", files[0])
	}
	if files[1].Project != "other" || files[1].Path != "b/c.go" || files[1].Count != 1 {
		t.Errorf("files[1] = %+v", files[1])
	}
}
