// Package pathenc maps (project, relative file path) pairs to canonical,
// filesystem-safe file names, reversibly: Decode(Encode(x)) == x for every
// valid x, including paths containing the escape sequence itself.
package pathenc

import (
	"strings"

	"github.com/starford/marginalia/internal/apperr"
)

// Suffix is appended to every encoded name so annotation files are
// recognizable on disk.
const Suffix = ".json"

// sep replaces path separators in the encoded name. Literal '#' in the
// input is doubled, so after escaping '#' only ever appears in pairs and
// the odd '#' of the separator token stays unambiguous.
const sep = "#-#"

func escape(s string) string {
	return strings.ReplaceAll(s, "#", "##")
}

// checkSegment rejects path components that could change meaning once
// resolved against the storage root.
func checkSegment(seg, whole string) error {
	switch {
	case seg == "":
		return apperr.New(apperr.InvalidPath, "empty path segment in %q", whole)
	case seg == "." || seg == "..":
		return apperr.New(apperr.InvalidPath, "path %q must not contain %q segments", whole, seg)
	case strings.ContainsRune(seg, '\\'):
		return apperr.New(apperr.InvalidPath, "path %q must use forward slashes", whole)
	}
	return nil
}

// Encode returns the canonical file name for an annotation file. The
// mapping is deterministic and injective; relativePath may contain any
// number of '/' separators.
func Encode(project, relativePath string) (string, error) {
	if project == "" {
		return "", apperr.New(apperr.InvalidPath, "project must not be empty")
	}
	if strings.ContainsRune(project, '/') {
		return "", apperr.New(apperr.InvalidPath, "project %q must not contain path separators", project)
	}
	if err := checkSegment(project, project); err != nil {
		return "", err
	}
	if relativePath == "" {
		return "", apperr.New(apperr.InvalidPath, "file path must not be empty")
	}
	if strings.HasPrefix(relativePath, "/") {
		return "", apperr.New(apperr.InvalidPath, "file path %q must be relative", relativePath)
	}

	parts := []string{escape(project)}
	for _, seg := range strings.Split(relativePath, "/") {
		if err := checkSegment(seg, relativePath); err != nil {
			return "", err
		}
		parts = append(parts, escape(seg))
	}
	return strings.Join(parts, sep) + Suffix, nil
}

// Decode inverts Encode. It fails with CorruptState on names that no
// Encode call could have produced.
func Decode(fileName string) (project, relativePath string, err error) {
	name, ok := strings.CutSuffix(fileName, Suffix)
	if !ok {
		return "", "", apperr.New(apperr.CorruptState, "file name %q lacks %s suffix", fileName, Suffix)
	}

	// Left-to-right scan: "##" is a literal '#', "#-#" is a separator,
	// any other '#' cannot occur in a valid name.
	var segs []string
	var cur strings.Builder
	for i := 0; i < len(name); {
		if name[i] != '#' {
			cur.WriteByte(name[i])
			i++
			continue
		}
		switch {
		case i+1 < len(name) && name[i+1] == '#':
			cur.WriteByte('#')
			i += 2
		case strings.HasPrefix(name[i:], sep):
			segs = append(segs, cur.String())
			cur.Reset()
			i += len(sep)
		default:
			return "", "", apperr.New(apperr.CorruptState, "file name %q has a stray escape at byte %d", fileName, i)
		}
	}
	segs = append(segs, cur.String())

	if len(segs) < 2 {
		return "", "", apperr.New(apperr.CorruptState, "file name %q encodes no file path", fileName)
	}
	return segs[0], strings.Join(segs[1:], "/"), nil
}

// IsEncoded reports whether fileName looks like an Encode product. The
// shared coordination record and temp files never match: every encoded
// name contains at least one separator token.
func IsEncoded(fileName string) bool {
	_, _, err := Decode(fileName)
	return err == nil
}
