package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxLineBytes is the longest line a session buffers as one entry.
// Longer lines are split into chunks of this size.
const DefaultMaxLineBytes = 1 << 20

// DefaultExitDrain is how long a session waits, once the process has exited,
// for its output pipes to reach end of stream before recording the exit
// marker. Descendants that inherited the pipes can hold them open well past
// the exit; lines they write after the drain follow the marker.
const DefaultExitDrain = time.Second

// eventQueueDepth bounds how far readers can run ahead of the applier.
const eventQueueDepth = 64

// Option configures a Session.
type Option func(*options)

type options struct {
	binaryStdout bool
	maxLineBytes int
	exitDrain    time.Duration
	logger       *slog.Logger
	hook         func(Line)
}

// WithBinaryStdout disables line capture of stdout. The session never reads
// the source's stdout and its stdout buffer stays empty.
func WithBinaryStdout(binary bool) Option {
	return func(o *options) {
		o.binaryStdout = binary
	}
}

// WithMaxLineBytes sets the longest line buffered as a single entry.
// Values <= 0 keep DefaultMaxLineBytes.
func WithMaxLineBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineBytes = n
		}
	}
}

// WithExitDrain sets how long to wait for buffered output after the process
// exits before the exit marker is recorded. Values < 0 keep DefaultExitDrain.
func WithExitDrain(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.exitDrain = d
		}
	}
}

// WithLogger sets the logger used for teardown and reader failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLineHook registers fn to observe every line after it has been buffered,
// including the exit marker. fn runs on the session's applier goroutine,
// outside any buffer lock, and must not block.
func WithLineHook(fn func(Line)) Option {
	return func(o *options) {
		o.hook = fn
	}
}

// Session captures the output of one running process.
//
// All methods are safe for concurrent use. Close is idempotent; if the caller
// drops the last reference without closing, the session is closed when the
// garbage collector reclaims it.
type Session struct {
	st      *state
	cleanup runtime.Cleanup
}

// state is everything the session's goroutines touch. It is kept separate
// from Session so that running goroutines do not keep the handle reachable.
type state struct {
	binaryStdout bool
	maxLineBytes int
	exitDrain    time.Duration
	log          *slog.Logger
	hook         func(Line)

	stdout LineBuffer
	stderr LineBuffer

	events chan event
	gate   chan struct{} // closed when disposal starts
	exited chan struct{} // closed after the exit marker is applied
	idle   chan struct{} // closed when the applier returns

	exitCode int // written before exited is closed

	disposals atomic.Int32

	mu  sync.Mutex
	src Source
}

type eventKind int

const (
	eventLine eventKind = iota
	eventEOF
	eventExit
)

type event struct {
	kind   eventKind
	stream Stream
	text   string
	code   int
}

// New starts capturing src. The source's read loops must not have been
// started by anyone else: the session reads stderr, stdout unless binary
// stdout mode is enabled, and waits for src.Done to record the exit marker.
func New(src Source, opts ...Option) (*Session, error) {
	if src == nil {
		return nil, ErrNilSource
	}

	o := options{maxLineBytes: DefaultMaxLineBytes, exitDrain: DefaultExitDrain}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	var stdout io.Reader
	if !o.binaryStdout {
		stdout = src.Stdout()
		if stdout == nil {
			return nil, ErrNoStdout
		}
	}
	stderr := src.Stderr()
	if stderr == nil {
		return nil, ErrNoStderr
	}

	st := &state{
		binaryStdout: o.binaryStdout,
		maxLineBytes: o.maxLineBytes,
		exitDrain:    o.exitDrain,
		log:          o.logger,
		hook:         o.hook,
		events:       make(chan event, eventQueueDepth),
		gate:         make(chan struct{}),
		exited:       make(chan struct{}),
		idle:         make(chan struct{}),
		src:          src,
	}
	st.start(src, stdout, stderr)

	s := &Session{st: st}
	s.cleanup = runtime.AddCleanup(s, func(st *state) {
		st.dispose("unreachable")
	}, st)

	return s, nil
}

// Close stops capturing, clears both buffers and releases the source. Only
// the first call has any effect. Close never panics and never blocks on the
// process. When Close returns, no line hook is running and none will run
// again. A line hook must therefore not call Close.
func (s *Session) Close() {
	s.cleanup.Stop()
	s.st.dispose("close")
	<-s.st.idle
}

// Dump renders a snapshot of both buffers.
func (s *Session) Dump() Dump {
	return Dump{
		Stdout: s.st.stdout.Text(),
		Stderr: s.st.stderr.Text(),
	}
}

// Stdout returns a snapshot of the captured stdout lines.
func (s *Session) Stdout() []string {
	return s.st.stdout.Snapshot()
}

// Stderr returns a snapshot of the captured stderr lines, including the exit
// marker once the process has exited.
func (s *Session) Stderr() []string {
	return s.st.stderr.Snapshot()
}

// BinaryStdout reports whether stdout line capture is disabled.
func (s *Session) BinaryStdout() bool {
	return s.st.binaryStdout
}

// Exited returns a channel closed once the exit marker has been applied.
// It may never close if the session is closed first.
func (s *Session) Exited() <-chan struct{} {
	return s.st.exited
}

// ExitCode returns the process exit code once Exited is closed.
func (s *Session) ExitCode() (int, bool) {
	select {
	case <-s.st.exited:
		return s.st.exitCode, true
	default:
		return 0, false
	}
}

func (st *state) start(src Source, stdout, stderr io.Reader) {
	readers := &errgroup.Group{}
	if !st.binaryStdout {
		readers.Go(func() error {
			return st.pump(Stdout, stdout)
		})
	}
	readers.Go(func() error {
		return st.pump(Stderr, stderr)
	})

	go st.apply()
	go st.watchExit(src, readers)
}

// pump reads lines from r and hands them to the applier. Once the session is
// disposed it stops delivering and drains r so the writer never blocks on a
// full pipe.
func (st *state) pump(stream Stream, r io.Reader) error {
	// The end-of-stream event has no payload; the applier drops it.
	defer st.send(event{kind: eventEOF, stream: stream})

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(st.maxLineBytes, 64*1024)), st.maxLineBytes)
	sc.Split(scanLines(st.maxLineBytes))

	for sc.Scan() {
		if !st.send(event{kind: eventLine, stream: stream, text: sc.Text()}) {
			return drain(r)
		}
	}
	if err := sc.Err(); err != nil && !isCanceledRead(err) {
		return fmt.Errorf("read %s: %w", stream, err)
	}
	return nil
}

// send delivers ev to the applier, or returns false if disposal has started.
func (st *state) send(ev event) bool {
	select {
	case <-st.gate:
		return false
	default:
	}

	select {
	case st.events <- ev:
		return true
	case <-st.gate:
		return false
	}
}

// apply is the only goroutine that appends to the buffers.
func (st *state) apply() {
	defer close(st.idle)
	for {
		select {
		case <-st.gate:
			return
		case ev := <-st.events:
			st.handle(ev)
		}
	}
}

func (st *state) handle(ev event) {
	switch ev.kind {
	case eventEOF:
		return
	case eventExit:
		marker := ExitMarker(ev.code)
		appended := st.stderr.Append(marker)
		st.exitCode = ev.code
		// Hooks for every line up to the marker have returned before
		// Exited is closed.
		if appended {
			st.notify(Line{Stream: Stderr, Text: marker})
		}
		close(st.exited)
	case eventLine:
		buf := &st.stdout
		if ev.stream == Stderr {
			buf = &st.stderr
		}
		if buf.Append(ev.text) {
			st.notify(Line{Stream: ev.stream, Text: ev.text})
		}
	}
}

func (st *state) notify(line Line) {
	if st.hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			st.log.Error("capture line hook panicked", "stream", line.Stream, "panic", r)
		}
	}()
	st.hook(line)
}

// watchExit emits the exit marker once the process has exited and its
// readers have drained, or once the drain window has passed. A descendant
// holding the pipes open cannot delay the marker past exitDrain.
func (st *state) watchExit(src Source, readers *errgroup.Group) {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if err := readers.Wait(); err != nil {
			st.log.Warn("capture reader failed", "error", err)
		}
	}()

	select {
	case <-src.Done():
	case <-st.gate:
		return
	}

	timer := time.NewTimer(st.exitDrain)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		st.log.Debug("output still open after exit", "drain", st.exitDrain)
	case <-st.gate:
		return
	}
	st.send(event{kind: eventExit, code: src.ExitCode()})
}

// dispose tears the session down on its first call. Every step runs even if
// an earlier one fails; failures are logged and swallowed.
func (st *state) dispose(reason string) {
	n := st.disposals.Add(1)
	st.log.Debug("disposing capture session", "reason", reason, "call", n)
	if n != 1 {
		return
	}

	st.safely("close gate", func() error {
		close(st.gate)
		return nil
	})
	st.safely("cancel stderr read", func() error {
		return st.cancelRead(Stderr)
	})
	if !st.binaryStdout {
		st.safely("cancel stdout read", func() error {
			return st.cancelRead(Stdout)
		})
	}
	st.safely("clear buffers", func() error {
		st.stdout.Close()
		st.stderr.Close()
		return nil
	})
	st.safely("release source", func() error {
		st.mu.Lock()
		st.src = nil
		st.mu.Unlock()
		return nil
	})
}

func (st *state) cancelRead(stream Stream) error {
	st.mu.Lock()
	src := st.src
	st.mu.Unlock()

	rc, ok := src.(ReadCanceler)
	if !ok {
		return nil
	}
	return rc.CancelRead(stream)
}

func (st *state) safely(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			st.log.Error("capture teardown step panicked", "step", step, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		st.log.Warn("capture teardown step failed", "step", step, "error", err)
	}
}

// scanLines is bufio.ScanLines with long lines split into chunks of at most
// limit bytes instead of failing with bufio.ErrTooLong. Chunks end on a rune
// boundary unless a single rune is longer than limit.
func scanLines(limit int) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		advance, token, err := bufio.ScanLines(data, atEOF)
		if advance == 0 && token == nil && err == nil && len(data) >= limit {
			n := limit - partialRune(data[:limit])
			return n, data[:n], nil
		}
		return advance, token, err
	}
}

// partialRune returns the length of an incomplete UTF-8 sequence at the end of
// b, or 0 if b ends on a rune boundary or holds nothing but that sequence.
func partialRune(b []byte) int {
	i := len(b) - 1
	for i > 0 && len(b)-i < utf8.UTFMax && !utf8.RuneStart(b[i]) {
		i--
	}
	if i <= 0 || utf8.FullRune(b[i:]) {
		return 0
	}
	return len(b) - i
}

func drain(r io.Reader) error {
	if _, err := io.Copy(io.Discard, r); err != nil && !isCanceledRead(err) {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

// isCanceledRead reports whether err means the read side was closed or its
// deadline was forced, which is how sources cancel a read loop.
func isCanceledRead(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
