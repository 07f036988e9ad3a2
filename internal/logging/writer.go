package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// ErrLogBusy is returned when another writer holds a run's log.
var ErrLogBusy = errors.New("run log is held by another writer")

// TeeWriter wraps an io.Writer to also write to a log file.
// It implements io.WriteCloser.
//
// While open, a TeeWriter holds an exclusive advisory lock next to the log
// file. Readers use the lock to tell a live log from a finished one.
type TeeWriter struct {
	primary io.Writer
	logFile *os.File
	lock    *flock.Flock
	mu      sync.Mutex
}

// NewTeeWriter creates a TeeWriter that writes to both the primary writer
// and the specified log file path. The log file is created or truncated.
func NewTeeWriter(primary io.Writer, logPath string) (*TeeWriter, error) {
	return openTeeWriter(primary, logPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY)
}

// NewTeeWriterAppend creates a TeeWriter that writes to both the primary writer
// and appends to the specified log file path.
func NewTeeWriterAppend(primary io.Writer, logPath string) (*TeeWriter, error) {
	return openTeeWriter(primary, logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY)
}

func openTeeWriter(primary io.Writer, logPath string, flag int) (*TeeWriter, error) {
	lock := flock.New(lockPath(logPath))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock log file %s: %w", logPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLogBusy, logPath)
	}

	//nolint:gosec // G302/G304: logPath is from trusted PathManager; 0644 needed for log rotation tools
	logFile, err := os.OpenFile(logPath, flag, 0o644)
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &TeeWriter{
		primary: primary,
		logFile: logFile,
		lock:    lock,
	}, nil
}

// Write writes data to both the primary writer and the log file.
// If the primary writer is nil, it only writes to the log file.
func (t *TeeWriter) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Always write to log file first
	if t.logFile != nil {
		if _, err := t.logFile.Write(p); err != nil {
			return 0, fmt.Errorf("write to log file: %w", err)
		}
	}

	// Write to primary if available
	if t.primary != nil {
		return t.primary.Write(p)
	}

	return len(p), nil
}

// WriteLine writes one captured line tagged with its stream name.
func (t *TeeWriter) WriteLine(stream, text string) error {
	_, err := fmt.Fprintf(t, "%s%s%s\n", stream, LineSeparator, text)
	return err
}

// Close closes the log file and releases the writer lock. The primary
// writer is not closed. Close is idempotent.
func (t *TeeWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.logFile != nil {
		if err := t.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		t.logFile = nil
	}
	// The lock file stays on disk; removing it could invalidate a lock
	// concurrently acquired by another process.
	if t.lock != nil {
		if err := t.lock.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release log lock: %w", err))
		}
		t.lock = nil
	}
	return errors.Join(errs...)
}

// Sync flushes the log file to disk.
func (t *TeeWriter) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.logFile != nil {
		return t.logFile.Sync()
	}
	return nil
}

// LogPath returns the path of the log file, or empty string if no log file.
func (t *TeeWriter) LogPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.logFile != nil {
		return t.logFile.Name()
	}
	return ""
}

// LogOnlyWriter creates a writer that only writes to the log file (no primary).
func LogOnlyWriter(logPath string) (*TeeWriter, error) {
	return NewTeeWriter(nil, logPath)
}
