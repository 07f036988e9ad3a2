// Package logging persists captured run output so it can be read back after
// the capturing process has gone away.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	logExt    = ".log"
	stdoutExt = ".stdout"
	lockExt   = ".lock"
)

// PathManager handles log file path construction and directory management.
type PathManager struct {
	baseDir string
}

// NewPathManager creates a new PathManager with the given base directory.
// The base directory is typically ~/.local/share/outcap/logs.
func NewPathManager(baseDir string) *PathManager {
	return &PathManager{baseDir: baseDir}
}

// BaseDir returns the base log directory.
func (p *PathManager) BaseDir() string {
	return p.baseDir
}

// RunLogPath returns the full path for a run's line log.
// Path format: <baseDir>/<runID>.log
func (p *PathManager) RunLogPath(runID string) string {
	return filepath.Join(p.baseDir, runID+logExt)
}

// RunStdoutPath returns the path raw stdout is written to when a run
// captures stdout in binary mode.
// Path format: <baseDir>/<runID>.stdout
func (p *PathManager) RunStdoutPath(runID string) string {
	return filepath.Join(p.baseDir, runID+stdoutExt)
}

// lockPath returns the advisory lock file guarding a log file.
func lockPath(logPath string) string {
	return logPath + lockExt
}

// EnsureBaseDir creates the log directory if it doesn't exist.
func (p *PathManager) EnsureBaseDir() error {
	if err := os.MkdirAll(p.baseDir, 0o750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	return nil
}

// EnsureRunLog ensures the log directory exists and returns the run's log path.
func (p *PathManager) EnsureRunLog(runID string) (string, error) {
	if err := p.EnsureBaseDir(); err != nil {
		return "", err
	}
	return p.RunLogPath(runID), nil
}

// LogExists checks if a log file exists for the given run.
func (p *PathManager) LogExists(runID string) bool {
	_, err := os.Stat(p.RunLogPath(runID))
	return err == nil
}

// RemoveRunLogs removes every file belonging to a run. Missing files are
// not an error.
func (p *PathManager) RemoveRunLogs(runID string) error {
	logPath := p.RunLogPath(runID)
	for _, path := range []string{logPath, lockPath(logPath), p.RunStdoutPath(runID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove run log: %w", err)
		}
	}
	return nil
}

// ListRunLogs returns the IDs of runs that have log files.
func (p *PathManager) ListRunLogs() ([]string, error) {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log directory: %w", err)
	}

	var runs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := strings.CutSuffix(entry.Name(), logExt); ok {
			runs = append(runs, id)
		}
	}
	return runs, nil
}
