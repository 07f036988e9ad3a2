package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	//nolint:gosec // G304: path is from test temp directory, not user input
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestTeeWriter_Write(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	primary := &bytes.Buffer{}
	tw, err := NewTeeWriter(primary, logPath)
	require.NoError(t, err)

	n, err := tw.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, logPath, tw.LogPath())

	assert.Equal(t, "hello world", primary.String())

	require.NoError(t, tw.Close())
	assert.Equal(t, "hello world", readFile(t, logPath))
	assert.Empty(t, tw.LogPath())
}

func TestTeeWriter_WriteLine(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	tw, err := LogOnlyWriter(logPath)
	require.NoError(t, err)

	require.NoError(t, tw.WriteLine("stdout", "a"))
	require.NoError(t, tw.WriteLine("stderr", "b | c"))
	require.NoError(t, tw.WriteLine("stdout", ""))
	require.NoError(t, tw.Sync())
	require.NoError(t, tw.Close())

	assert.Equal(t, "stdout | a\nstderr | b | c\nstdout | \n", readFile(t, logPath))
}

func TestTeeWriter_Truncates(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	require.NoError(t, os.WriteFile(logPath, []byte("stale content\n"), 0o600))

	tw, err := NewTeeWriter(nil, logPath)
	require.NoError(t, err)
	_, err = tw.Write([]byte("fresh\n"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	assert.Equal(t, "fresh\n", readFile(t, logPath))
}

func TestTeeWriterAppend(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	require.NoError(t, os.WriteFile(logPath, []byte("existing\n"), 0o600))

	primary := &bytes.Buffer{}
	tw, err := NewTeeWriterAppend(primary, logPath)
	require.NoError(t, err)

	_, err = tw.Write([]byte("appended\n"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	assert.Equal(t, "appended\n", primary.String())
	assert.Equal(t, "existing\nappended\n", readFile(t, logPath))
}

func TestTeeWriter_ExclusiveLock(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	first, err := LogOnlyWriter(logPath)
	require.NoError(t, err)

	_, err = NewTeeWriterAppend(nil, logPath)
	assert.ErrorIs(t, err, ErrLogBusy)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "Close should be idempotent")

	second, err := NewTeeWriterAppend(nil, logPath)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestTeeWriter_WriteAfterClose(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	primary := &bytes.Buffer{}
	tw, err := NewTeeWriter(primary, logPath)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	// Only the primary receives data once the log is closed
	_, err = tw.Write([]byte("late"))
	require.NoError(t, err)
	assert.Equal(t, "late", primary.String())
	assert.Empty(t, readFile(t, logPath))
}
