package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmgilman/outcap/internal/capture"
)

var (
	_ capture.Source       = (*Process)(nil)
	_ capture.ReadCanceler = (*Process)(nil)
)

// Process is a started command. Its stdout and stderr are the read ends of
// OS pipes; nothing reads them until a consumer does.
//
// The process is reaped in the background, so Done and ExitCode are usable
// without anyone calling Wait.
type Process struct {
	cmd    *exec.Cmd
	stdout *os.File // nil when stdout is streamed to StartOptions.Stdout
	stderr *os.File

	done     chan struct{}
	exitCode int   // set before done is closed
	waitErr  error // non-exit failure from cmd.Wait, set before done is closed

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Stdout returns the stdout read end, or nil if stdout was streamed elsewhere.
func (p *Process) Stdout() io.Reader {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

// Stderr returns the stderr read end.
func (p *Process) Stderr() io.Reader {
	if p.stderr == nil {
		return nil
	}
	return p.stderr
}

// Done returns a channel closed when the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code once Done is closed. It is -1 if the process
// was terminated by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// PID returns the OS process ID.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait blocks until the process exits or ctx is done. A non-zero exit is not
// an error; the returned error reports only failures to reap the process.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.exitCode, p.waitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Signal sends sig to the process.
func (p *Process) Signal(sig os.Signal) error {
	if err := p.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("signal process %d: %w", p.PID(), err)
	}
	return nil
}

// Kill terminates the process immediately.
func (p *Process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %d: %w", p.PID(), err)
	}
	return nil
}

// CancelRead unblocks any pending read on stream by expiring its read
// deadline. Reads fail with os.ErrDeadlineExceeded from then on. Cancelling
// a read end that Close has already closed is a no-op.
func (p *Process) CancelRead(stream capture.Stream) error {
	var f *os.File
	switch stream {
	case capture.Stdout:
		f = p.stdout
	case capture.Stderr:
		f = p.stderr
	default:
		return fmt.Errorf("cancel read: unknown stream %s", stream)
	}
	if f == nil || p.closed.Load() {
		return nil
	}
	if err := f.SetReadDeadline(time.Now()); err != nil {
		// Lost a race with Close; the read end is gone either way.
		if p.closed.Load() || errors.Is(err, os.ErrClosed) {
			return nil
		}
		return fmt.Errorf("cancel %s read: %w", stream, err)
	}
	return nil
}

// Close closes the pipe read ends. It does not stop the process. Close is
// idempotent.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		var errs []error
		for _, f := range []*os.File{p.stdout, p.stderr} {
			if f == nil {
				continue
			}
			if err := f.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.exitCode = -1
	if ps := p.cmd.ProcessState; ps != nil {
		p.exitCode = ps.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = fmt.Errorf("wait: %w", err)
	}

	close(p.done)
}
