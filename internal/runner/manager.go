package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmgilman/outcap/internal/capture"
	"github.com/jmgilman/outcap/internal/catalog"
	"github.com/jmgilman/outcap/internal/exec"
	"github.com/jmgilman/outcap/internal/logging"
	"github.com/jmgilman/outcap/internal/names"
)

// killGrace bounds how long Wait waits for output to drain after killing a
// canceled run. Grandchildren holding the pipes open can delay end of stream
// indefinitely.
const killGrace = 5 * time.Second

// catalogStore is the internal interface for catalog operations.
type catalogStore interface {
	Add(ctx context.Context, entry catalog.Entry) error
	Get(ctx context.Context, id string) (*catalog.Entry, error)
	GetByName(ctx context.Context, name string) (*catalog.Entry, error)
	Update(ctx context.Context, entry catalog.Entry) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context, filter catalog.ListFilter) ([]catalog.Entry, error)
}

// executor is the internal interface for starting processes.
type executor interface {
	Start(ctx context.Context, opts *exec.StartOptions) (*exec.Process, error)
	LookPath(name string) (string, error)
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	LogsDir      string        // Directory for run logs (e.g., ~/.local/share/outcap/logs)
	MaxLineBytes int           // Longest captured line before it is split (0 = default)
	ExitDrain    time.Duration // Wait for output after exit before the exit marker (0 = default)
	Logger       *slog.Logger  // Diagnostic logger (default: discard)
}

// Manager orchestrates run lifecycle operations.
type Manager struct {
	catalog      catalogStore
	exec         executor
	logPaths     *logging.PathManager
	logs         *logging.Reader
	maxLineBytes int
	exitDrain    time.Duration
	log          *slog.Logger
}

// NewManager creates a new run manager.
func NewManager(store catalogStore, ex executor, cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	paths := logging.NewPathManager(cfg.LogsDir)
	return &Manager{
		catalog:      store,
		exec:         ex,
		logPaths:     paths,
		logs:         logging.NewReader(paths),
		maxLineBytes: cfg.MaxLineBytes,
		exitDrain:    cfg.ExitDrain,
		log:          logger,
	}
}

// Start launches a command and begins capturing its output.
func (m *Manager) Start(ctx context.Context, cfg StartConfig) (*Run, error) {
	if cfg.Command == "" {
		return nil, ErrNoCommand
	}

	name, err := m.resolveName(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}

	id := names.NewID()
	logPath, err := m.logPaths.EnsureRunLog(id)
	if err != nil {
		return nil, err
	}

	// The log lock is held before the entry exists, so a running entry
	// without a held lock always means the capturing process died.
	logw, err := logging.NewTeeWriter(cfg.Echo, logPath)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	dir := cfg.Dir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			logw.Close()
			return nil, fmt.Errorf("get working directory: %w", err)
		}
	}

	entry := catalog.Entry{
		ID:           id,
		Name:         name,
		Command:      cfg.Command,
		Args:         cfg.Args,
		Dir:          dir,
		BinaryStdout: cfg.BinaryStdout,
		Status:       catalog.StatusRunning,
		StartedAt:    time.Now(),
		LogPath:      logPath,
	}
	if addErr := m.catalog.Add(ctx, entry); addErr != nil {
		logw.Close()
		if errors.Is(addErr, catalog.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrNameInUse, name)
		}
		return nil, fmt.Errorf("add catalog entry: %w", addErr)
	}

	run := &Run{
		m:       m,
		entry:   entry,
		logw:    logw,
		onLine:  cfg.OnLine,
		started: entry.StartedAt,
	}

	// Record the failure against the entry so it stays visible in listings
	fail := func(err error) (*Run, error) {
		run.closeFiles()
		m.markFailed(ctx, entry, err)
		return nil, err
	}

	path, err := m.exec.LookPath(cfg.Command)
	if err != nil {
		return fail(fmt.Errorf("%w: %s", ErrCommandNotFound, cfg.Command))
	}

	opts := &exec.StartOptions{
		Name:  path,
		Args:  cfg.Args,
		Dir:   dir,
		Env:   cfg.Env,
		Stdin: cfg.Stdin,
	}
	if cfg.BinaryStdout {
		out := cfg.StdoutPath
		if out == "" {
			out = m.logPaths.RunStdoutPath(id)
		}
		//nolint:gosec // G304: path is chosen by the user running the command
		f, ferr := os.Create(out)
		if ferr != nil {
			return fail(fmt.Errorf("create stdout file: %w", ferr))
		}
		abs, absErr := filepath.Abs(out)
		if absErr != nil {
			abs = out
		}
		run.stdoutFile = f
		run.entry.StdoutPath = abs
		opts.Stdout = f
	}

	proc, err := m.exec.Start(ctx, opts)
	if err != nil {
		return fail(fmt.Errorf("start command: %w", err))
	}
	run.proc = proc

	captureOpts := []capture.Option{
		capture.WithBinaryStdout(cfg.BinaryStdout),
		capture.WithMaxLineBytes(m.maxLineBytes),
		capture.WithLogger(m.log.With("run", name)),
		capture.WithLineHook(run.record),
	}
	if m.exitDrain > 0 {
		captureOpts = append(captureOpts, capture.WithExitDrain(m.exitDrain))
	}
	session, err := capture.New(proc, captureOpts...)
	if err != nil {
		_ = proc.Kill()
		proc.Close()
		return fail(fmt.Errorf("capture output: %w", err))
	}
	run.session = session

	run.entry.PID = proc.PID()
	if err := m.catalog.Update(ctx, run.entry); err != nil {
		m.log.Warn("failed to record run pid", "run", name, "error", err)
	}

	m.log.Info("run started", "run", name, "id", id, "pid", run.entry.PID, "command", cfg.Command)
	return run, nil
}

// resolveName validates a requested name, or generates one when empty.
func (m *Manager) resolveName(ctx context.Context, name string) (string, error) {
	if name == "" {
		var lookupErr error
		generated, err := names.GenerateUnique(func(candidate string) bool {
			_, err := m.catalog.GetByName(ctx, candidate)
			if err != nil && !errors.Is(err, catalog.ErrNotFound) {
				lookupErr = err
			}
			return err == nil
		}, 0)
		if lookupErr != nil {
			return "", fmt.Errorf("check run name: %w", lookupErr)
		}
		if err != nil {
			return "", fmt.Errorf("generate run name: %w", err)
		}
		return generated, nil
	}

	if err := names.Validate(name); err != nil {
		return "", err
	}
	_, err := m.catalog.GetByName(ctx, name)
	if err == nil {
		return "", fmt.Errorf("%w: %s", ErrNameInUse, name)
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return "", fmt.Errorf("check run name: %w", err)
	}
	return name, nil
}

func (m *Manager) markFailed(ctx context.Context, entry catalog.Entry, cause error) {
	now := time.Now()
	entry.Status = catalog.StatusFailed
	entry.Error = cause.Error()
	entry.FinishedAt = &now
	if err := m.catalog.Update(context.WithoutCancel(ctx), entry); err != nil {
		m.log.Warn("failed to record run failure", "run", entry.Name, "error", err)
	}
}

// Get returns a run by ID or name.
func (m *Manager) Get(ctx context.Context, ref string) (*Info, error) {
	entry, err := m.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	return m.entryToInfo(entry), nil
}

// List returns all runs matching the filter, oldest first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]Info, error) {
	entries, err := m.catalog.List(ctx, catalog.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list catalog entries: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for i := range entries {
		info := m.entryToInfo(&entries[i])
		if filter.Status != "" && info.Status != filter.Status {
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// ListFilter filters run listings.
type ListFilter struct {
	Status Status // Filter by status (empty = all)
}

// Remove deletes a run's record and logs. A live run is refused unless
// force is set, in which case its process is killed first.
func (m *Manager) Remove(ctx context.Context, ref string, force bool) error {
	entry, err := m.lookup(ctx, ref)
	if err != nil {
		return err
	}

	if m.entryToInfo(entry).Status == catalog.StatusRunning {
		if !force {
			return fmt.Errorf("%w: %s", ErrStillRunning, entry.Name)
		}
		m.killPID(entry.PID)
	}

	// A custom --stdout-file path belongs to the user and is left alone.
	if err := m.logPaths.RemoveRunLogs(entry.ID); err != nil {
		m.log.Warn("failed to remove run logs", "run", entry.Name, "error", err)
	}

	if err := m.catalog.Remove(ctx, entry.ID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("remove catalog entry: %w", err)
	}

	m.log.Info("run removed", "run", entry.Name, "id", entry.ID)
	return nil
}

// Prune removes every finished run and returns the removed infos.
func (m *Manager) Prune(ctx context.Context) ([]Info, error) {
	infos, err := m.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}

	var removed []Info
	for _, info := range infos {
		if info.Status == catalog.StatusRunning {
			continue
		}
		if err := m.Remove(ctx, info.ID, false); err != nil {
			return removed, err
		}
		removed = append(removed, info)
	}
	return removed, nil
}

// Signal sends sig to the process of a live run. The run is finalized by
// whichever outcap process is waiting on it.
func (m *Manager) Signal(ctx context.Context, ref string, sig os.Signal) (*Info, error) {
	entry, err := m.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	info := m.entryToInfo(entry)
	if info.Status != catalog.StatusRunning || entry.PID <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, entry.Name)
	}

	p, err := os.FindProcess(entry.PID)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", entry.PID, err)
	}
	if err := p.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil, fmt.Errorf("%w: %s", ErrNotRunning, entry.Name)
		}
		return nil, fmt.Errorf("signal process %d: %w", entry.PID, err)
	}

	m.log.Info("signaled run", "run", entry.Name, "pid", entry.PID, "signal", sig)
	return info, nil
}

// killPID kills the process recorded for a live run. Best effort: the
// process may already be gone.
func (m *Manager) killPID(pid int) {
	if pid <= 0 {
		return
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		m.log.Debug("failed to kill run process", "pid", pid, "error", err)
	}
}

// Log returns the last n log lines of a run, or every line when n <= 0.
func (m *Manager) Log(ctx context.Context, ref string, n int) ([]logging.Entry, error) {
	entry, err := m.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !m.logPaths.LogExists(entry.ID) {
		return nil, fmt.Errorf("%w: %s", ErrNoLog, entry.Name)
	}

	var lines []string
	if n > 0 {
		lines, err = m.logs.ReadLastN(entry.ID, n)
	} else {
		lines, err = m.logs.ReadAll(entry.ID)
	}
	if err != nil {
		return nil, err
	}

	out := make([]logging.Entry, len(lines))
	for i, line := range lines {
		out[i] = logging.ParseLine(line)
	}
	return out, nil
}

// Dump rebuilds the dump of a run from its log.
func (m *Manager) Dump(ctx context.Context, ref string) (capture.Dump, error) {
	lines, err := m.Log(ctx, ref, 0)
	if err != nil {
		return capture.Dump{}, err
	}

	var stdout, stderr []string
	for _, l := range lines {
		switch l.Stream {
		case capture.Stdout.String():
			stdout = append(stdout, l.Text)
		case capture.Stderr.String():
			stderr = append(stderr, l.Text)
		}
	}
	return capture.Dump{Stdout: joinLines(stdout), Stderr: joinLines(stderr)}, nil
}

// Follow writes the last n log lines of a run and then new lines as they
// are captured, until the run finishes or ctx is done.
func (m *Manager) Follow(ctx context.Context, ref string, out io.Writer, n int, pollInterval time.Duration) error {
	entry, err := m.lookup(ctx, ref)
	if err != nil {
		return err
	}
	if !m.logPaths.LogExists(entry.ID) {
		return fmt.Errorf("%w: %s", ErrNoLog, entry.Name)
	}
	return m.logs.FollowWithHistory(ctx, entry.ID, out, n, pollInterval)
}

// lookup resolves a run by ID first, then by name.
func (m *Manager) lookup(ctx context.Context, ref string) (*catalog.Entry, error) {
	entry, err := m.catalog.Get(ctx, ref)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("get catalog entry: %w", err)
	}

	entry, err = m.catalog.GetByName(ctx, ref)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("get catalog entry: %w", err)
	}
	return entry, nil
}

// entryToInfo converts a catalog entry to run info. A running entry whose
// log is no longer held lost its capturing process and is reported failed.
func (m *Manager) entryToInfo(entry *catalog.Entry) *Info {
	info := &Info{
		ID:           entry.ID,
		Name:         entry.Name,
		Command:      entry.Command,
		Args:         entry.Args,
		Dir:          entry.Dir,
		PID:          entry.PID,
		BinaryStdout: entry.BinaryStdout,
		Status:       entry.Status,
		ExitCode:     entry.ExitCode,
		Error:        entry.Error,
		StartedAt:    entry.StartedAt,
		FinishedAt:   entry.FinishedAt,
		LogPath:      entry.LogPath,
		StdoutPath:   entry.StdoutPath,
	}

	if entry.Status == catalog.StatusRunning {
		active, err := m.logs.Active(entry.ID)
		if err == nil && !active {
			info.Status = catalog.StatusFailed
			info.Error = "capturing process exited before the run finished"
		}
	}
	return info
}

// Run is a live run started by Manager.Start.
type Run struct {
	m          *Manager
	entry      catalog.Entry
	proc       *exec.Process
	session    *capture.Session
	logw       *logging.TeeWriter
	stdoutFile *os.File
	onLine     func(capture.Line)
	started    time.Time

	logMu  sync.Mutex
	logErr error

	waitOnce sync.Once
	result   *Result
	waitErr  error
}

// ID returns the run ID.
func (r *Run) ID() string { return r.entry.ID }

// Name returns the run name.
func (r *Run) Name() string { return r.entry.Name }

// PID returns the process ID of the command.
func (r *Run) PID() int { return r.entry.PID }

// LogPath returns the path of the run's line log.
func (r *Run) LogPath() string { return r.entry.LogPath }

// StdoutPath returns where raw stdout is written in binary mode.
func (r *Run) StdoutPath() string { return r.entry.StdoutPath }

// Snapshot returns the output captured so far.
func (r *Run) Snapshot() capture.Dump { return r.session.Dump() }

// Exited returns a channel closed once the exit marker has been captured.
func (r *Run) Exited() <-chan struct{} { return r.session.Exited() }

// record is the capture line hook. It runs on the session's applier.
func (r *Run) record(line capture.Line) {
	if err := r.logw.WriteLine(line.Stream.String(), line.Text); err != nil {
		r.logMu.Lock()
		if r.logErr == nil {
			r.logErr = err
			r.m.log.Warn("failed to write run log", "run", r.entry.Name, "error", err)
		}
		r.logMu.Unlock()
	}
	if r.onLine != nil {
		r.onLine(line)
	}
}

// Wait blocks until the command has exited and all of its output has been
// captured, then finalizes the run. If ctx is done first the command is
// killed and the run is recorded as canceled. Wait is safe to call more than
// once; later calls return the first result.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	r.waitOnce.Do(func() {
		r.result, r.waitErr = r.wait(ctx)
	})
	return r.result, r.waitErr
}

func (r *Run) wait(ctx context.Context) (*Result, error) {
	status := catalog.StatusExited

	select {
	case <-r.session.Exited():
	case <-ctx.Done():
		status = catalog.StatusCanceled
		r.m.log.Info("canceling run", "run", r.entry.Name, "reason", context.Cause(ctx))
		if err := r.proc.Kill(); err != nil {
			r.m.log.Warn("failed to kill run", "run", r.entry.Name, "error", err)
		}
		select {
		case <-r.session.Exited():
		case <-time.After(killGrace):
			r.m.log.Warn("output did not drain after kill", "run", r.entry.Name)
		}
	}

	// Snapshot before Close: closing clears the buffers
	dump := r.session.Dump()
	code, ok := r.session.ExitCode()
	if !ok {
		code = r.proc.ExitCode()
	}

	// Close returns once the line hook is idle, so nothing writes the log
	// after closeFiles.
	r.session.Close()
	r.proc.Close()

	now := time.Now()
	r.entry.Status = status
	r.entry.ExitCode = &code
	r.entry.FinishedAt = &now
	// The entry is finalized before the log lock is released
	updateErr := r.m.catalog.Update(context.WithoutCancel(ctx), r.entry)
	r.closeFiles()
	if errors.Is(updateErr, catalog.ErrNotFound) {
		// Removed while running
		r.m.log.Debug("run record removed before it finished", "run", r.entry.Name)
		updateErr = nil
	}
	if updateErr != nil {
		return nil, fmt.Errorf("update catalog entry: %w", updateErr)
	}

	r.m.log.Info("run finished", "run", r.entry.Name, "status", status, "exit_code", code)

	return &Result{
		ID:       r.entry.ID,
		Name:     r.entry.Name,
		Status:   status,
		ExitCode: code,
		Dump:     dump,
		Duration: now.Sub(r.started),
	}, nil
}

func (r *Run) closeFiles() {
	if r.stdoutFile != nil {
		if err := r.stdoutFile.Close(); err != nil {
			r.m.log.Warn("failed to close stdout file", "run", r.entry.Name, "error", err)
		}
	}
	if err := r.logw.Close(); err != nil {
		r.m.log.Warn("failed to close run log", "run", r.entry.Name, "error", err)
	}
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
