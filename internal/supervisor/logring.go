package supervisor

import (
	"strings"
	"sync"
)

// DefaultLogLines is how many output lines are kept per server.
const DefaultLogLines = 1000

// logRing keeps the most recent output lines of a server.
type logRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newLogRing(size int) *logRing {
	if size <= 0 {
		size = DefaultLogLines
	}
	return &logRing{lines: make([]string, size)}
}

// Add appends one line, dropping the oldest when full.
func (r *logRing) Add(line string) {
	line = strings.TrimRight(line, "\r\n")
	r.mu.Lock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Tail returns up to limit of the newest lines, oldest first. A limit of
// zero or less returns everything kept.
func (r *logRing) Tail(limit int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	if r.full {
		out = append(out, r.lines[r.next:]...)
	}
	out = append(out, r.lines[:r.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
