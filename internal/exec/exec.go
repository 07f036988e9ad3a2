// Package exec starts external commands with their output streams exposed
// as pipes, ready to be handed to a capture session.
package exec

import (
	"context"
	"io"
)

// StartOptions configures how a command is started.
type StartOptions struct {
	Name  string    // Command name or path (required)
	Args  []string  // Command arguments
	Dir   string    // Working directory (empty = current)
	Env   []string  // Additional environment variables (KEY=VALUE format)
	Stdin io.Reader // Stdin source (nil = no input)

	// Stdout, if set, receives the raw stdout bytes and Process.Stdout returns
	// nil. Use this for commands whose stdout is not line-oriented text.
	Stdout io.Writer
}

// Executor starts external commands.
type Executor interface {
	// Start launches a command and returns once it is running. The caller
	// owns the returned Process and must Close it after reading its output.
	// Canceling ctx kills the process.
	Start(ctx context.Context, opts *StartOptions) (*Process, error)

	// LookPath searches for an executable in PATH.
	// Returns the full path if found, or an error if not.
	LookPath(name string) (string, error)
}
