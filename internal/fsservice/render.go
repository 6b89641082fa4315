package fsservice

import (
	"fmt"
	"sort"
	"strings"
)

const timeLayout = "2006-01-02 15:04:05"

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatSize renders a byte count in binary units with two decimals.
func FormatSize(n int64) string {
	size := float64(n)
	for _, unit := range sizeUnits[:len(sizeUnits)-1] {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f %s", size, sizeUnits[len(sizeUnits)-1])
}

// String renders the listing with [DIR] and [FILE] markers, sorted by name.
func (l Listing) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Directory listing for %s:\n", l.Path)
	if l.Empty() {
		sb.WriteString("\nDirectory is empty.")
		return sb.String()
	}

	dirs := append([]Entry(nil), l.Dirs...)
	files := append([]Entry(nil), l.Files...)
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	if len(dirs) > 0 {
		sb.WriteString("\nDirectories:\n")
		for _, d := range dirs {
			fmt.Fprintf(&sb, "[DIR] %s\n", d.Name)
		}
	}
	if len(files) > 0 {
		sb.WriteString("\nFiles:\n")
		for _, f := range files {
			fmt.Fprintf(&sb, "[FILE] %s (%s)\n", f.Name, FormatSize(f.Size))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r SearchResult) String() string {
	if len(r.Matches) == 0 {
		return fmt.Sprintf("No files matching '%s' found in %s", r.Pattern, r.Root)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d matches for '%s' in %s:\n", len(r.Matches), r.Pattern, r.Root)
	for _, m := range r.Matches {
		marker := "[FILE]"
		if m.IsDir {
			marker = "[DIR]"
		}
		fmt.Fprintf(&sb, "%s %s\n", marker, m.Path)
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&sb, "(%d entries could not be read)\n", len(r.Skipped))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (fi FileInfo) String() string {
	var sb strings.Builder
	sb.WriteString("File Information:\n")
	fmt.Fprintf(&sb, "Path: %s\n", fi.Path)
	fmt.Fprintf(&sb, "Type: %s\n", fi.Type)
	fmt.Fprintf(&sb, "Size: %s (%d bytes)\n", FormatSize(fi.Size), fi.Size)
	fmt.Fprintf(&sb, "Created: %s\n", fi.Created.Format(timeLayout))
	fmt.Fprintf(&sb, "Modified: %s\n", fi.Modified.Format(timeLayout))
	fmt.Fprintf(&sb, "Accessed: %s\n", fi.Accessed.Format(timeLayout))
	fmt.Fprintf(&sb, "Permissions: %s", fi.Permissions)
	return sb.String()
}

func renderMultiple(contents []FileContent) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		if c.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: Error - %v", c.Path, c.Err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:\n%s\n", c.Path, c.Content))
	}
	return strings.Join(parts, "\n---\n")
}

func renderAllowed(dirs []string) string {
	if len(dirs) == 0 {
		return "This server has no allowed directories configured."
	}
	var sb strings.Builder
	sb.WriteString("This server has access to the following directories:\n")
	for i, d := range dirs {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, d)
	}
	return strings.TrimRight(sb.String(), "\n")
}
