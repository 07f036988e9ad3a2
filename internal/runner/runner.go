// Package runner launches commands under a capture session and keeps a
// persistent record of every run.
package runner

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jmgilman/outcap/internal/capture"
	"github.com/jmgilman/outcap/internal/catalog"
)

// Sentinel errors for run operations.
var (
	ErrNotFound        = errors.New("run not found")
	ErrNoCommand       = errors.New("no command given")
	ErrCommandNotFound = errors.New("command not found")
	ErrNameInUse       = errors.New("run name already in use")
	ErrStillRunning    = errors.New("run is still running")
	ErrNotRunning      = errors.New("run is not running")
	ErrNoLog           = errors.New("run has no log")
)

// Status mirrors the catalog status of a run.
type Status = catalog.Status

// Run status constants.
const (
	StatusRunning  = catalog.StatusRunning
	StatusExited   = catalog.StatusExited
	StatusCanceled = catalog.StatusCanceled
	StatusFailed   = catalog.StatusFailed
)

// Info describes a run, live or finished.
type Info struct {
	ID           string
	Name         string
	Command      string
	Args         []string
	Dir          string
	PID          int
	BinaryStdout bool
	Status       Status
	ExitCode     *int
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
	LogPath      string
	StdoutPath   string
}

// Duration returns how long the run took, or has taken so far.
func (i *Info) Duration() time.Duration {
	if i.FinishedAt != nil {
		return i.FinishedAt.Sub(i.StartedAt)
	}
	return time.Since(i.StartedAt)
}

// CommandLine returns the command and its arguments joined by spaces.
func (i *Info) CommandLine() string {
	return strings.Join(append([]string{i.Command}, i.Args...), " ")
}

// StartConfig configures a run.
type StartConfig struct {
	Name    string   // Run name (generated when empty)
	Command string   // Executable to run
	Args    []string // Arguments
	Dir     string   // Working directory (default: current)
	Env     []string // Extra environment variables (KEY=VALUE)
	Stdin   io.Reader

	// BinaryStdout streams stdout untouched to StdoutPath instead of
	// capturing it as lines.
	BinaryStdout bool
	StdoutPath   string // Default: <logs>/<id>.stdout

	// Echo receives every captured line as it is logged.
	Echo io.Writer

	// OnLine observes every captured line. It must not block.
	OnLine func(capture.Line)
}

// Result is the outcome of a finished run.
type Result struct {
	ID       string
	Name     string
	Status   Status
	ExitCode int
	Dump     capture.Dump
	Duration time.Duration
}
