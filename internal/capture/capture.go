// Package capture records a running child process's stdout and stderr as
// lines while the process runs, and renders point-in-time dumps of both
// streams for diagnostics.
//
// A Session observes a process that something else started. It never creates,
// waits on, or kills the process; it only reads the output streams handed to it
// and listens for the exit notification.
package capture

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Sentinel errors for session construction.
var (
	ErrNilSource = errors.New("capture source must not be nil")
	ErrNoStdout  = errors.New("capture source has no stdout stream; enable binary stdout mode to skip it")
	ErrNoStderr  = errors.New("capture source has no stderr stream")
)

// Stream identifies one of the two captured output streams.
type Stream int

// Stream values.
const (
	Stdout Stream = iota + 1
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "stream(" + strconv.Itoa(int(s)) + ")"
	}
}

// Line is a single captured line and the stream it arrived on.
type Line struct {
	Stream Stream
	Text   string
}

// Source is a started process whose output has not been read yet.
//
// Stdout may return nil when the session is constructed in binary stdout mode.
// Done must be closed once the process has terminated, after which ExitCode
// reports its exit status.
type Source interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Done() <-chan struct{}
	ExitCode() int
}

// ReadCanceler is implemented by sources that can abort a blocked read on one
// of their streams. Sessions call it during Close so reader goroutines stop
// promptly instead of waiting for end of stream.
type ReadCanceler interface {
	CancelRead(stream Stream) error
}

const (
	exitMarkerPrefix = "--EXIT:"
	exitMarkerSuffix = "--"
)

// ExitMarker returns the line appended to the stderr buffer when the process
// exits with code.
func ExitMarker(code int) string {
	return fmt.Sprintf("%s%d%s", exitMarkerPrefix, code, exitMarkerSuffix)
}

// ParseExitMarker reports whether line is an exit marker and, if so, the exit
// code it records.
func ParseExitMarker(line string) (int, bool) {
	rest, ok := strings.CutPrefix(line, exitMarkerPrefix)
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, exitMarkerSuffix)
	if !ok || rest == "" {
		return 0, false
	}
	code, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return code, true
}
