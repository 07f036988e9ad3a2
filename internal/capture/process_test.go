package capture_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/outcap/internal/capture"
	"github.com/jmgilman/outcap/internal/exec"
)

func start(t *testing.T, script string, opts *exec.StartOptions) *exec.Process {
	t.Helper()
	if opts == nil {
		opts = &exec.StartOptions{}
	}
	opts.Name = "sh"
	opts.Args = []string{"-c", script}

	p, err := exec.New().Start(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Kill()
		_ = p.Close()
	})
	return p
}

func waitExited(t *testing.T, s *capture.Session) {
	t.Helper()
	select {
	case <-s.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for exit marker")
	}
}

func TestSession_RealProcess(t *testing.T) {
	p := start(t, `echo a; echo b; echo c; echo err1 >&2; exit 2`, nil)

	s, err := capture.New(p)
	require.NoError(t, err)
	defer s.Close()

	waitExited(t, s)

	d := s.Dump()
	assert.Equal(t, "a\nb\nc\n", d.Stdout)
	assert.Equal(t, "err1\n--EXIT:2--\n", d.Stderr)
}

func TestSession_RealProcessBackgroundChild(t *testing.T) {
	// The background sleep inherits both pipes and outlives the shell.
	p := start(t, `sleep 5 & echo hi; exit 3`, nil)

	s, err := capture.New(p, capture.WithExitDrain(250*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	begin := time.Now()
	waitExited(t, s)
	assert.Less(t, time.Since(begin), 3*time.Second, "exit marker waited for the background child")

	assert.Equal(t, []string{"hi"}, s.Stdout())
	assert.Equal(t, []string{"--EXIT:3--"}, s.Stderr())
}

func TestSession_RealProcessManyLines(t *testing.T) {
	const n = 500
	p := start(t, fmt.Sprintf(`i=0; while [ $i -lt %d ]; do echo "out $i"; echo "err $i" >&2; i=$((i+1)); done`, n), nil)

	s, err := capture.New(p)
	require.NoError(t, err)
	defer s.Close()

	waitExited(t, s)

	stdout := s.Stdout()
	require.Len(t, stdout, n)
	for i, line := range stdout {
		require.Equal(t, fmt.Sprintf("out %d", i), line)
	}

	stderr := s.Stderr()
	require.Len(t, stderr, n+1)
	assert.Equal(t, "--EXIT:0--", stderr[n])
}

func TestSession_RealProcessBinaryStdout(t *testing.T) {
	var raw strings.Builder
	p := start(t, `printf 'not\000text\n'; echo warn >&2`, &exec.StartOptions{Stdout: &raw})

	s, err := capture.New(p, capture.WithBinaryStdout(true))
	require.NoError(t, err)
	defer s.Close()

	waitExited(t, s)

	assert.Empty(t, s.Stdout())
	assert.Equal(t, "warn\n--EXIT:0--\n", s.Dump().Stderr)
}

func TestSession_RealProcessCloseWhileRunning(t *testing.T) {
	p := start(t, `echo started; sleep 10; echo never`, nil)

	s, err := capture.New(p)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(s.Stdout()) == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.NotPanics(t, s.Close)
	assert.NotPanics(t, s.Close)
	assert.True(t, s.Dump().IsEmpty())

	require.NoError(t, p.Kill())
	<-p.Done()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.Dump().IsEmpty(), "no events may be appended after close")
}

func TestSession_RealProcessLineModeRequiresStdout(t *testing.T) {
	var raw strings.Builder
	p := start(t, `true`, &exec.StartOptions{Stdout: &raw})

	_, err := capture.New(p)
	assert.ErrorIs(t, err, capture.ErrNoStdout)
}
