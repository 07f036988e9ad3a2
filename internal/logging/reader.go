package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// DefaultTailLines is the default number of lines to read when tailing.
const DefaultTailLines = 100

// LineSeparator splits the stream tag from the text in a log line.
const LineSeparator = " | "

// maxLogLine bounds a single log line. Captured lines are already split at
// the session's line limit, so anything longer is a corrupt file.
const maxLogLine = 4 << 20

// Entry is one parsed line of a run log.
type Entry struct {
	Stream string
	Text   string
}

// ParseLine splits a log line into its stream tag and text. Lines without
// a tag are returned with an empty stream.
func ParseLine(line string) Entry {
	stream, text, ok := strings.Cut(line, LineSeparator)
	if !ok {
		return Entry{Text: line}
	}
	return Entry{Stream: stream, Text: text}
}

// Reader provides functionality to read run log files.
type Reader struct {
	pathMgr *PathManager
}

// NewReader creates a new Reader with the given PathManager.
func NewReader(pathMgr *PathManager) *Reader {
	return &Reader{pathMgr: pathMgr}
}

// ReadAll reads the entire log file for a run.
func (r *Reader) ReadAll(runID string) ([]string, error) {
	return readAllLines(r.pathMgr.RunLogPath(runID))
}

// ReadLastN reads the last n lines from a run's log file.
// If n <= 0, uses DefaultTailLines.
func (r *Reader) ReadLastN(runID string, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultTailLines
	}
	return readLastNLines(r.pathMgr.RunLogPath(runID), n)
}

// Active reports whether a writer currently holds the run's log.
func (r *Reader) Active(runID string) (bool, error) {
	lock := flock.New(lockPath(r.pathMgr.RunLogPath(runID)))
	defer lock.Close()

	free, err := lock.TryRLock()
	if err != nil {
		return false, fmt.Errorf("check log lock: %w", err)
	}
	return !free, nil
}

// Follow streams new log lines to the provided writer as they are appended,
// similar to `tail -f`. It returns once the writer has released the log and
// the remaining lines are flushed, or when the context is cancelled.
func (r *Reader) Follow(ctx context.Context, runID string, out io.Writer, pollInterval time.Duration) error {
	path := r.pathMgr.RunLogPath(runID)

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	// Seek to end of file
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}

	return r.follow(ctx, runID, bufio.NewReader(file), out, pollInterval)
}

// FollowWithHistory reads the last n lines and then follows new output.
// This is similar to `tail -n N -f`.
func (r *Reader) FollowWithHistory(ctx context.Context, runID string, out io.Writer, n int, pollInterval time.Duration) error {
	lines, err := r.ReadLastN(runID, n)
	if err != nil {
		return err
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
	}

	return r.Follow(ctx, runID, out, pollInterval)
}

func (r *Reader) follow(ctx context.Context, runID string, reader *bufio.Reader, out io.Writer, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		// Check the lock before draining so lines written just before release are
		// still flushed on the final pass.
		active, err := r.Active(runID)
		if err != nil {
			return err
		}
		if err := copyAvailable(reader, out); err != nil {
			return err
		}
		if !active {
			return nil
		}
	}
}

// copyAvailable writes every complete or partial line currently readable.
func copyAvailable(reader *bufio.Reader, out io.Writer) error {
	for {
		line, err := reader.ReadBytes('\n')
		// Always write any data we received, even with EOF
		if len(line) > 0 {
			if _, werr := out.Write(line); werr != nil {
				return fmt.Errorf("write output: %w", werr)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read line: %w", err)
		}
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	return scanner
}

// readAllLines reads all lines from a file.
func readAllLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := newScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log file: %w", err)
	}

	return lines, nil
}

// readLastNLines reads the last n lines from a file.
// Uses a ring buffer approach for efficiency with large files.
func readLastNLines(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	ring := make([]string, n)
	idx := 0
	count := 0

	scanner := newScanner(file)
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % n
		count++
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log file: %w", err)
	}

	if count == 0 {
		return nil, nil
	}

	if count < n {
		return ring[:count], nil
	}

	result := make([]string, n)
	for i := range n {
		result[i] = ring[(idx+i)%n]
	}
	return result, nil
}
