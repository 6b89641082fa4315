// Package fsservice implements the sandboxed filesystem tool surface. Every
// operation checks each path argument against the allowed directory set
// before touching the disk.
package fsservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"toolbridge/internal/logging"
	"toolbridge/internal/pathguard"
	"toolbridge/internal/tools"
)

// Service executes filesystem operations confined to an allowed set.
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	allowed pathguard.AllowedSet
	walk    func(root string, fn fs.WalkDirFunc) error
}

// New creates a service confined to allowed.
func New(allowed pathguard.AllowedSet) *Service {
	return &Service{allowed: allowed, walk: filepath.WalkDir}
}

// Entry is one item of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Listing is the content of a directory, directories first.
type Listing struct {
	Path  string
	Dirs  []Entry
	Files []Entry
}

// Empty reports whether the directory has no entries.
func (l Listing) Empty() bool { return len(l.Dirs) == 0 && len(l.Files) == 0 }

// Match is one search hit.
type Match struct {
	Path  string
	IsDir bool
}

// SearchResult holds matches sorted by path plus the entries the walk
// could not read.
type SearchResult struct {
	Root    string
	Pattern string
	Matches []Match
	Skipped []string
}

// FileInfo is the metadata reported for one path.
type FileInfo struct {
	Path        string
	Type        string
	Size        int64
	Created     time.Time
	Modified    time.Time
	Accessed    time.Time
	Permissions string
}

// FileContent is one entry of a multi-file read.
type FileContent struct {
	Path    string
	Content string
	Err     error
}

// guard canonicalizes path and rejects anything outside the allowed set.
func (s *Service) guard(path string) (string, error) {
	resolved, ok := s.allowed.Resolve(path)
	if !ok {
		logging.Get(logging.CategoryFilesystem).Warn("Denied access to %q", path)
		return "", fmt.Errorf("%w: %s", tools.ErrAccessDenied, path)
	}
	return resolved, nil
}

func statErr(err error, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", tools.ErrNotFound, path)
	}
	return fmt.Errorf("%s: %w", path, err)
}

// Read returns the full text of a regular file.
func (s *Service) Read(path string) (string, error) {
	p, err := s.guard(path)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return "", statErr(err, path)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%w: %s", tools.ErrNotAFile, path)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", statErr(err, path)
	}
	logging.Get(logging.CategoryFilesystem).Debug("read_file: %s (%d bytes)", p, len(data))
	return string(data), nil
}

// ReadMultiple reads each path independently. A failed read is reported in
// its entry and does not stop the others.
func (s *Service) ReadMultiple(paths []string) []FileContent {
	out := make([]FileContent, 0, len(paths))
	for _, p := range paths {
		content, err := s.Read(p)
		out = append(out, FileContent{Path: p, Content: content, Err: err})
	}
	return out
}

// Write creates or truncates path with content, creating missing parents.
// It returns the number of bytes written.
func (s *Service) Write(path, content string) (int, error) {
	p, err := s.guard(path)
	if err != nil {
		return 0, err
	}
	if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		return 0, fmt.Errorf("%w: %s", tools.ErrNotAFile, path)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return 0, fmt.Errorf("create parent of %s: %w", path, err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	logging.Get(logging.CategoryFilesystem).Info("write_file: %s (%d bytes)", p, len(content))
	return len(content), nil
}

// ListDirectory lists the immediate children of a directory.
func (s *Service) ListDirectory(path string) (Listing, error) {
	p, err := s.guard(path)
	if err != nil {
		return Listing{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return Listing{}, statErr(err, path)
	}
	if !fi.IsDir() {
		return Listing{}, fmt.Errorf("%w: %s", tools.ErrNotADirectory, path)
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		return Listing{}, statErr(err, path)
	}
	listing := Listing{Path: p}
	for _, e := range entries {
		if e.IsDir() {
			listing.Dirs = append(listing.Dirs, Entry{Name: e.Name(), IsDir: true})
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		listing.Files = append(listing.Files, Entry{Name: e.Name(), Size: size})
	}
	return listing, nil
}

// CreateDirectory creates path and any missing parents. An existing
// directory is not an error.
func (s *Service) CreateDirectory(path string) error {
	p, err := s.guard(path)
	if err != nil {
		return err
	}
	if fi, err := os.Stat(p); err == nil {
		if !fi.IsDir() {
			return fmt.Errorf("%w: %s", tools.ErrNotADirectory, path)
		}
		return nil
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		if errors.Is(err, syscall.ENOTDIR) {
			return fmt.Errorf("%w: %s", tools.ErrNotADirectory, path)
		}
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	logging.Get(logging.CategoryFilesystem).Info("create_directory: %s", p)
	return nil
}

// Move renames source to destination. It fails with ErrAlreadyExists,
// leaving both paths untouched, when destination exists.
func (s *Service) Move(source, destination string) error {
	src, err := s.guard(source)
	if err != nil {
		return err
	}
	dst, err := s.guard(destination)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(src); err != nil {
		return statErr(err, source)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", tools.ErrAlreadyExists, destination)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create parent of %s: %w", destination, err)
	}

	err = os.Rename(src, dst)
	if errors.Is(err, syscall.EXDEV) {
		err = moveAcrossDevices(src, dst)
	}
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", source, destination, err)
	}
	logging.Get(logging.CategoryFilesystem).Info("move_file: %s -> %s", src, dst)
	return nil
}

func moveAcrossDevices(src, dst string) error {
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(p, target, info.Mode().Perm())
	})
	if err != nil {
		_ = os.RemoveAll(dst)
		return err
	}
	return os.RemoveAll(src)
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Search walks root and returns every entry below it whose name contains
// pattern, case-insensitively. Unreadable entries are skipped and recorded.
func (s *Service) Search(ctx context.Context, root, pattern string) (SearchResult, error) {
	p, err := s.guard(root)
	if err != nil {
		return SearchResult{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return SearchResult{}, statErr(err, root)
	}
	if !fi.IsDir() {
		return SearchResult{}, fmt.Errorf("%w: %s", tools.ErrNotADirectory, root)
	}

	needle := strings.ToLower(pattern)
	result := SearchResult{Root: p, Pattern: pattern}
	walkErr := s.walk(p, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			result.Skipped = append(result.Skipped, path)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == p {
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), needle) {
			result.Matches = append(result.Matches, Match{Path: path, IsDir: d.IsDir()})
		}
		return nil
	})
	if walkErr != nil {
		return SearchResult{}, walkErr
	}

	sort.Slice(result.Matches, func(i, j int) bool {
		return result.Matches[i].Path < result.Matches[j].Path
	})
	logging.Get(logging.CategoryFilesystem).Debug("search_files: %q under %s, %d matches, %d skipped",
		pattern, p, len(result.Matches), len(result.Skipped))
	return result, nil
}

// Info returns metadata for path.
func (s *Service) Info(path string) (FileInfo, error) {
	p, err := s.guard(path)
	if err != nil {
		return FileInfo{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return FileInfo{}, statErr(err, path)
	}

	kind := "file"
	switch {
	case fi.IsDir():
		kind = "directory"
	case !fi.Mode().IsRegular():
		kind = "other"
	}
	created, accessed := fileTimes(fi)
	return FileInfo{
		Path:        p,
		Type:        kind,
		Size:        fi.Size(),
		Created:     created,
		Modified:    fi.ModTime(),
		Accessed:    accessed,
		Permissions: fmt.Sprintf("%o", fi.Mode().Perm()),
	}, nil
}

// ListAllowedDirectories returns the allowed roots in configuration order.
func (s *Service) ListAllowedDirectories() []string {
	return s.allowed.Dirs()
}
