package capture

import (
	"strings"
)

// Dump is a rendering of both captured streams. Each field holds the
// stream's lines, every line terminated by a newline.
type Dump struct {
	Stdout string `json:"stdout" yaml:"stdout"`
	Stderr string `json:"stderr" yaml:"stderr"`
}

// String renders the dump for human reading, with a header per stream.
// Streams that are empty or whitespace only are omitted.
func (d Dump) String() string {
	var sb strings.Builder
	writeSection(&sb, "--- Standard output:", d.Stdout)
	writeSection(&sb, "--- Standard error:", d.Stderr)
	return sb.String()
}

// ExitCode returns the code recorded by the last exit marker in the stderr
// block, if any.
func (d Dump) ExitCode() (int, bool) {
	lines := strings.Split(strings.TrimRight(d.Stderr, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if code, ok := ParseExitMarker(lines[i]); ok {
			return code, true
		}
	}
	return 0, false
}

// IsEmpty reports whether neither stream captured anything.
func (d Dump) IsEmpty() bool {
	return d.Stdout == "" && d.Stderr == ""
}

func writeSection(sb *strings.Builder, header, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	sb.WriteString(header)
	sb.WriteByte('\n')
	sb.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		sb.WriteByte('\n')
	}
}
