package extract

// objectEnd returns the index of the '}' closing the object that opens at
// s[start], or -1 if the object is not closed within s. Braces inside
// string literals, including escaped quotes, do not count.
//
// Iterating bytes is safe for the ASCII delimiters because UTF-8 never
// uses ASCII bytes inside multi-byte sequences.
func objectEnd(s string, start int) int {
	var (
		depth    int
		inString bool
		escape   bool
	)
	for i := start; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// opensObject reports whether the '{' at s[start] can begin a JSON object:
// the next non-space byte must be '"' or '}'. more is true when s ends
// before that byte is known.
func opensObject(s string, start int) (ok, more bool) {
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '"', '}':
			return true, false
		default:
			return false, false
		}
	}
	return false, true
}
