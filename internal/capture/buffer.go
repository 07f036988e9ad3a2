package capture

import (
	"slices"
	"strings"
	"sync"
)

// LineBuffer is an ordered sequence of lines guarded by a single mutex.
// Appends and snapshots take the same lock, so a snapshot always equals the
// buffer's contents at one real point in time.
//
// The zero value is ready to use. Once closed, the buffer is empty and ignores
// further appends.
type LineBuffer struct {
	mu     sync.Mutex
	lines  []string
	sealed bool
}

// Append adds line to the end of the buffer. It returns false if the buffer
// has been closed and the line was dropped.
func (b *LineBuffer) Append(line string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return false
	}
	b.lines = append(b.lines, line)
	return true
}

// Snapshot returns a copy of the current contents, safe to use after the
// lock is released.
func (b *LineBuffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.lines)
}

// Len returns the number of buffered lines.
func (b *LineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.lines)
}

// Text renders a snapshot as newline-terminated lines. An empty buffer
// renders as the empty string.
func (b *LineBuffer) Text() string {
	return joinLines(b.Snapshot())
}

// Close clears the buffer and drops every later append.
func (b *LineBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = nil
	b.sealed = true
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}

	n := len(lines)
	for _, l := range lines {
		n += len(l)
	}

	var sb strings.Builder
	sb.Grow(n)
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}
