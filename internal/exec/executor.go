package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrNoCommand is returned when Start is called without a command name.
var ErrNoCommand = errors.New("command name must not be empty")

type executor struct{}

// New returns a new Executor that uses os/exec.
func New() Executor {
	return &executor{}
}

func (e *executor) Start(ctx context.Context, opts *StartOptions) (*Process, error) {
	if opts == nil || opts.Name == "" {
		return nil, ErrNoCommand
	}

	// G204: This is intentional - we're an executor that runs user-specified commands.
	// The caller is responsible for validating the command and arguments.
	cmd := exec.CommandContext(ctx, opts.Name, opts.Args...) //nolint:gosec // Intentional subprocess execution

	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	p := &Process{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	// The child gets the write ends; ours are closed once it has started so
	// the read ends see EOF when the child (and anything it spawned) exits.
	var childEnds []*os.File
	closeChildEnds := func() {
		for _, f := range childEnds {
			_ = f.Close()
		}
	}

	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		p.stdout = r
		cmd.Stdout = w
		childEnds = append(childEnds, w)
	}

	r, w, err := os.Pipe()
	if err != nil {
		closeChildEnds()
		_ = p.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	p.stderr = r
	cmd.Stderr = w
	childEnds = append(childEnds, w)

	err = cmd.Start()
	closeChildEnds()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("start %s: %w", opts.Name, err)
	}

	go p.wait()

	return p, nil
}

func (e *executor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
