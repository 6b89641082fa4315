package extract

import (
	"strings"

	"toolbridge/internal/conversation"
	"toolbridge/internal/logging"
)

// Scanner extracts tool calls from text that arrives in chunks. Text that
// cannot be part of a call is released as soon as it is seen; an object
// that is still open at the end of a chunk is held until it closes.
// A code fence that wraps nothing but calls is removed with them.
//
// A Scanner is not safe for concurrent use.
type Scanner struct {
	pending    string
	maxPending int
	// fence is the withheld opener of a code fence that so far held only calls.
	fence string
}

// NewScanner returns a scanner that holds open objects until they close
// or the stream ends.
func NewScanner() *Scanner {
	return &Scanner{}
}

// SetMaxPending limits how long an open object may grow before it is
// released as text. Zero or less removes the limit.
func (s *Scanner) SetMaxPending(n int) {
	s.maxPending = max(n, 0)
}

// Pending returns the text currently held back.
func (s *Scanner) Pending() string {
	return s.pending
}

// Feed consumes the next chunk. It returns the text that is now safe to
// show, with recognized call objects removed, and the calls completed by
// this chunk.
func (s *Scanner) Feed(chunk string) (string, []conversation.ToolCall) {
	s.pending += chunk
	return s.advance(false)
}

// Flush ends the stream: anything still held is released as text.
func (s *Scanner) Flush() (string, []conversation.ToolCall) {
	return s.advance(true)
}

type objectKind int

const (
	objectHold  objectKind = iota // undecided until more text arrives
	objectText                    // the '{' starts nothing; release it
	objectPlain                   // a complete object that is not a call
	objectCall
)

// object classifies the '{' at buf[j]. end is set for plain objects and calls.
func (s *Scanner) object(buf string, j int, final bool) (kind objectKind, end int, call conversation.ToolCall) {
	ok, more := opensObject(buf, j)
	if more && !final {
		return objectHold, 0, call
	}
	if !ok {
		return objectText, 0, call
	}

	end = objectEnd(buf, j)
	if end < 0 {
		if final || (s.maxPending > 0 && len(buf)-j > s.maxPending) {
			return objectText, 0, call
		}
		return objectHold, 0, call
	}

	call, shape, valid, isCall := parseCall(buf[j : end+1])
	switch {
	case !valid:
		// Not JSON; an object nested inside may still be a call.
		return objectText, 0, call
	case !isCall:
		return objectPlain, end, call
	}
	logging.Get(logging.CategoryExtractor).Debug("Extracted %s call from %s-shaped object", call.Name, shape)
	return objectCall, end, call
}

func (s *Scanner) advance(final bool) (string, []conversation.ToolCall) {
	buf := s.pending
	var (
		out   strings.Builder
		calls []conversation.ToolCall
	)

	i := 0
scan:
	for i < len(buf) {
		if s.fence != "" {
			k := len(buf) - len(strings.TrimLeft(buf[i:], " \t\r\n"))
			rest := buf[k:]
			switch {
			case rest == "" && final:
				i = len(buf)
				continue
			case rest == "", !final && strings.HasPrefix("```", rest):
				break scan
			case strings.HasPrefix(rest, "```"):
				after := rest[3:]
				if !final && (after == "" || after == "\r") {
					break scan
				}
				i = k + 3
				switch {
				case strings.HasPrefix(after, "\r\n"):
					i += 2
				case strings.HasPrefix(after, "\n"):
					i++
				}
				s.fence = ""
				continue
			case rest[0] == '{':
				kind, end, call := s.object(buf, k, final)
				if kind == objectHold {
					break scan
				}
				if kind == objectCall {
					calls = append(calls, call)
					i = end + 1
					continue
				}
			}
			// The fence holds more than calls: give its opener back.
			out.WriteString(s.fence)
			s.fence = ""
		}

		open := strings.IndexByte(buf[i:], '{')
		if open < 0 {
			i += release(&out, buf[i:], final)
			break
		}
		j := i + open

		kind, end, call := s.object(buf, j, final)
		switch kind {
		case objectHold:
			i += release(&out, buf[i:j], final)
			break scan
		case objectText:
			out.WriteString(buf[i : j+1])
			i = j + 1
		case objectPlain:
			out.WriteString(buf[i : end+1])
			i = end + 1
		case objectCall:
			pre := buf[i:j]
			if o := fenceOpener(pre); o >= 0 {
				out.WriteString(pre[:o])
				s.fence = pre[o:]
			} else {
				out.WriteString(pre)
			}
			calls = append(calls, call)
			i = end + 1
		}
	}

	s.pending = buf[i:]
	if final {
		// A fence left open by the end of the stream held only calls.
		s.fence = ""
	}
	return out.String(), calls
}

// release writes text to out, keeping back a trailing code fence opener
// that may still turn out to wrap a call. It returns the bytes written.
func release(out *strings.Builder, text string, final bool) int {
	n := len(text)
	if !final {
		if t := openerTail(text); t >= 0 {
			n = t
		}
	}
	out.WriteString(text[:n])
	return n
}

func isInfoByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' ||
		b == '_' || b == '-' || b == '+' || b == '.'
}

// fenceOpener returns where a complete fence opener ("```json\n" plus
// indentation) ending text starts, or -1.
func fenceOpener(text string) int {
	t := strings.TrimRight(text, " \t")
	if !strings.HasSuffix(t, "\n") {
		return -1
	}
	t = strings.TrimRight(strings.TrimSuffix(strings.TrimSuffix(t, "\n"), "\r"), " \t")
	info := len(t)
	for info > 0 && isInfoByte(t[info-1]) {
		info--
	}
	if !strings.HasSuffix(t[:info], "```") {
		return -1
	}
	return info - 3
}

// openerTail returns where a possibly incomplete fence opener ending text
// starts, or -1.
func openerTail(text string) int {
	if o := fenceOpener(text); o >= 0 {
		return o
	}
	t := strings.TrimRight(text, " \t\r")
	info := len(t)
	for info > 0 && isInfoByte(t[info-1]) {
		info--
	}
	ticks := info
	for ticks > 0 && t[ticks-1] == '`' {
		ticks--
	}
	switch n := info - ticks; {
	case n == 3:
		return ticks
	case n > 0 && n < 3 && len(t) == len(text) && info == len(t):
		return ticks
	}
	return -1
}
