// Package pathguard decides whether a path falls inside a set of allowed
// directories. Candidates are canonicalized (made absolute and cleaned)
// before comparison, so "." and ".." segments cannot climb out of a root,
// and a root only admits itself and paths below it: "/data" does not
// admit "/data2".
package pathguard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AllowedSet is an immutable, ordered set of canonical directory roots.
type AllowedSet struct {
	dirs []string
}

// New canonicalizes dirs and returns the set. Duplicates are dropped,
// first occurrence wins.
func New(dirs ...string) (AllowedSet, error) {
	seen := make(map[string]bool, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		c, err := Canonical(d)
		if err != nil {
			return AllowedSet{}, fmt.Errorf("allowed directory %q: %w", d, err)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return AllowedSet{dirs: out}, nil
}

// Dirs returns the canonical roots in configuration order.
func (s AllowedSet) Dirs() []string {
	out := make([]string, len(s.dirs))
	copy(out, s.dirs)
	return out
}

// Len returns the number of roots.
func (s AllowedSet) Len() int { return len(s.dirs) }

// Allows reports whether candidate is inside one of the roots.
func (s AllowedSet) Allows(candidate string) bool {
	return IsAllowed(candidate, s.dirs)
}

// Resolve canonicalizes candidate and returns it if allowed.
func (s AllowedSet) Resolve(candidate string) (string, bool) {
	c, err := Canonical(candidate)
	if err != nil {
		return "", false
	}
	return c, within(c, s.dirs)
}

// IsAllowed reports whether candidate, once canonicalized, equals one of the
// allowed roots or lies beneath one. Allowed entries are canonicalized too.
func IsAllowed(candidate string, allowed []string) bool {
	c, err := Canonical(candidate)
	if err != nil {
		return false
	}
	roots := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if ca, err := Canonical(a); err == nil {
			roots = append(roots, ca)
		}
	}
	return within(c, roots)
}

func within(c string, roots []string) bool {
	for _, root := range roots {
		if c == root {
			return true
		}
		prefix := root
		if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
			prefix += string(os.PathSeparator)
		}
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// Canonical returns the absolute, cleaned form of p. The result does not
// depend on whether p exists; symlinks are not resolved.
func Canonical(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("path contains NUL byte")
	}
	// Only the current user's home is expanded; "~name" is an ordinary
	// relative path.
	if p == "~" || strings.HasPrefix(p, "~"+string(os.PathSeparator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, p[1:])
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
