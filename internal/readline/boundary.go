package readline

import "bytes"

// Matcher incrementally scans a byte stream for a fixed boundary token.
// Partial-match progress survives across chunks, so a boundary split over
// separate reads is still detected without rescanning from the start.
type Matcher struct {
	pattern []byte
	fail    []int
	pos     int
}

func NewMatcher(pattern string) *Matcher {
	p := []byte(pattern)
	// Knuth-Morris-Pratt failure table: fail[i] is the length of the
	// longest proper prefix of p that is also a suffix of p[:i+1].
	fail := make([]int, len(p))
	for i := 1; i < len(p); i++ {
		j := fail[i-1]
		for j > 0 && p[i] != p[j] {
			j = fail[j-1]
		}
		if p[i] == p[j] {
			j++
		}
		fail[i] = j
	}
	return &Matcher{pattern: p, fail: fail}
}

// Pos returns how many pattern bytes are currently held as a partial match.
func (m *Matcher) Pos() int { return m.pos }

// Reset drops any partial-match state. A cancelled or failed scan has no
// resumption semantics; callers reset instead.
func (m *Matcher) Reset() { m.pos = 0 }

// step feeds one byte. Bytes that turn out not to belong to the boundary,
// including the front of an abandoned partial match, are appended to body.
func (m *Matcher) step(c byte, body *bytes.Buffer) bool {
	for m.pos > 0 && c != m.pattern[m.pos] {
		next := m.fail[m.pos-1]
		// The held prefix shrinks; its dropped front was body after all.
		body.Write(m.pattern[:m.pos-next])
		m.pos = next
	}
	if c == m.pattern[m.pos] {
		m.pos++
		if m.pos == len(m.pattern) {
			m.pos = 0
			return true
		}
		return false
	}
	body.WriteByte(c)
	return false
}

// Scan feeds chunk until the boundary completes or the chunk is exhausted.
// It returns how many bytes of chunk were consumed; found reports whether
// the boundary completed within them. Bytes past a completed boundary are
// left untouched for the caller.
func (m *Matcher) Scan(chunk []byte, body *bytes.Buffer) (consumed int, found bool) {
	for i, c := range chunk {
		if m.step(c, body) {
			return i + 1, true
		}
	}
	return len(chunk), false
}
