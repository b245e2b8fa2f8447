// Package security confines the files scenesynth writes (frames, scores,
// plots, snapshots) to an output root.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrOutsideRoot is returned when a path resolves outside its output root.
var ErrOutsideRoot = errors.New("path escapes output root")

// canonical resolves symlinks in the longest existing prefix of abs, so a
// path that does not exist yet is still checked through its real parent.
func canonical(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	for dir := abs; ; {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, abs)
			return filepath.Join(resolved, rel)
		}
		dir = parent
	}
}

// Within reports an error unless path lies inside root once both are made
// absolute and symlinks are followed.
func Within(root, path string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root %s: %w", root, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	rel, err := filepath.Rel(canonical(absRoot), canonical(absPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrOutsideRoot, path, root)
	}
	return nil
}

// ResolveOutput joins name onto root and checks the result stays inside
// root. An absolute name is accepted only when it is already inside root.
// An empty root means the working directory.
func ResolveOutput(root, name string) (string, error) {
	if root == "" {
		root = "."
	}
	if name == "" {
		return "", errors.New("empty output name")
	}
	path := name
	if !filepath.IsAbs(name) {
		path = filepath.Join(root, name)
	}
	if err := Within(root, path); err != nil {
		return "", err
	}
	return filepath.Clean(path), nil
}

// SanitizeFilename turns an arbitrary label into a single path element made
// of letters, digits, dot, underscore and dash, at most 64 bytes long.
func SanitizeFilename(s string) string {
	const maxLen = 64
	var b strings.Builder
	pendingSep := false
	for _, r := range s {
		ok := r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_')
		if !ok {
			pendingSep = b.Len() > 0
			continue
		}
		need := 1
		if pendingSep {
			need = 2
		}
		if b.Len()+need > maxLen {
			break
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "untitled"
	}
	return out
}
