package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/outcap/internal/capture"
	"github.com/jmgilman/outcap/internal/config"
	"github.com/jmgilman/outcap/internal/logging"
	"github.com/jmgilman/outcap/internal/runner"
)

func TestRunExitError(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert.NoError(t, runExitError(ctx, &runner.Result{Status: runner.StatusExited}))
	})

	t.Run("non-zero exit code is passed through", func(t *testing.T) {
		err := runExitError(ctx, &runner.Result{Status: runner.StatusExited, ExitCode: 7})

		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 7, exitErr.Code)
		assert.Equal(t, "exit status 7", exitErr.Error())
	})

	t.Run("signaled command exits 1", func(t *testing.T) {
		err := runExitError(ctx, &runner.Result{Status: runner.StatusExited, ExitCode: -1})

		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 1, exitErr.Code)
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := runExitError(cctx, &runner.Result{Status: runner.StatusCanceled, ExitCode: -1})

		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, exitCodeCanceled, exitErr.Code)
		assert.NoError(t, exitErr.Unwrap())
	})

	t.Run("timed out", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, time.Nanosecond)
		defer cancel()
		<-cctx.Done()
		err := runExitError(cctx, &runner.Result{Name: "slow", Status: runner.StatusCanceled})

		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, exitCodeTimeout, exitErr.Code)
		assert.Contains(t, exitErr.Error(), "slow timed out")
	})
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in   string
		want syscall.Signal
	}{
		{"TERM", syscall.SIGTERM},
		{"sigint", syscall.SIGINT},
		{"SIGKILL", syscall.SIGKILL},
		{"hup", syscall.SIGHUP},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sig, err := parseSignal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig)
		})
	}

	_, err := parseSignal("WINCH")
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "12ms", formatDuration(12345*time.Microsecond))
	assert.Equal(t, "2.5s", formatDuration(2512*time.Millisecond))
	assert.Equal(t, "1m30s", formatDuration(90*time.Second+400*time.Millisecond))
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", formatTimeAgo(now))
	assert.Equal(t, "5m ago", formatTimeAgo(now.Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "3h ago", formatTimeAgo(now.Add(-3*time.Hour-time.Second)))
	assert.Equal(t, "2d ago", formatTimeAgo(now.Add(-49*time.Hour)))
}

func TestTruncateCommand(t *testing.T) {
	assert.Equal(t, "make test", truncateCommand("make test", 20))
	assert.Equal(t, "abcdefg...", truncateCommand("abcdefghijklmnop", 10))
}

func TestWriteDump(t *testing.T) {
	dump := capture.Dump{Stdout: "a\nb\n", Stderr: "oops\n--EXIT:1--\n"}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeDump(&buf, config.FormatText, dump))
		assert.Equal(t, dump.String(), buf.String())
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeDump(&buf, config.FormatJSON, dump))

		var got capture.Dump
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, dump, got)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeDump(&buf, config.FormatYAML, dump))

		var got capture.Dump
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, dump, got)
	})

	t.Run("unknown format", func(t *testing.T) {
		err := writeDump(&bytes.Buffer{}, "xml", dump)
		assert.ErrorIs(t, err, config.ErrInvalidFormat)
	})
}

func TestWriteLogEntry(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLogEntry(&buf, logging.Entry{Stream: "stderr", Text: "--EXIT:0--"}))

	assert.Contains(t, buf.String(), "stderr")
	assert.Contains(t, buf.String(), logging.LineSeparator+"--EXIT:0--\n")
}
