package logging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLog(t *testing.T, dir, runID string, lines []string) string {
	t.Helper()
	pm := NewPathManager(dir)
	path, err := pm.EnsureRunLog(runID)
	require.NoError(t, err)

	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	return path
}

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want Entry
	}{
		{"stdout | hello", Entry{Stream: "stdout", Text: "hello"}},
		{"stderr | a | b", Entry{Stream: "stderr", Text: "a | b"}},
		{"stdout | ", Entry{Stream: "stdout", Text: ""}},
		{"untagged", Entry{Text: "untagged"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLine(tt.line))
		})
	}
}

func TestReader_ReadAll(t *testing.T) {
	dir := t.TempDir()
	lines := []string{"line1", "line2", "line3", "line4", "line5"}
	createTestLog(t, dir, "run1", lines)

	reader := NewReader(NewPathManager(dir))

	result, err := reader.ReadAll("run1")
	require.NoError(t, err)
	assert.Equal(t, lines, result)
}

func TestReader_ReadAll_Empty(t *testing.T) {
	dir := t.TempDir()
	createTestLog(t, dir, "run1", []string{})

	reader := NewReader(NewPathManager(dir))

	result, err := reader.ReadAll("run1")
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestReader_ReadAll_NotFound(t *testing.T) {
	reader := NewReader(NewPathManager(t.TempDir()))

	_, err := reader.ReadAll("nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReader_ReadLastN(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := range 10 {
		lines = append(lines, fmt.Sprintf("line%d", i))
	}
	createTestLog(t, dir, "run1", lines)

	reader := NewReader(NewPathManager(dir))

	t.Run("returns last n lines", func(t *testing.T) {
		result, err := reader.ReadLastN("run1", 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"line7", "line8", "line9"}, result)
	})

	t.Run("returns everything when fewer than n", func(t *testing.T) {
		result, err := reader.ReadLastN("run1", 50)
		require.NoError(t, err)
		assert.Equal(t, lines, result)
	})

	t.Run("defaults when n is not positive", func(t *testing.T) {
		result, err := reader.ReadLastN("run1", 0)
		require.NoError(t, err)
		assert.Equal(t, lines, result)
	})
}

func TestReader_ReadLastN_Empty(t *testing.T) {
	dir := t.TempDir()
	createTestLog(t, dir, "run1", []string{})

	reader := NewReader(NewPathManager(dir))

	result, err := reader.ReadLastN("run1", 5)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestReader_Active(t *testing.T) {
	dir := t.TempDir()
	pm := NewPathManager(dir)
	reader := NewReader(pm)

	logPath, err := pm.EnsureRunLog("run1")
	require.NoError(t, err)

	active, err := reader.Active("run1")
	require.NoError(t, err)
	assert.False(t, active)

	tw, err := LogOnlyWriter(logPath)
	require.NoError(t, err)

	active, err = reader.Active("run1")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, tw.Close())

	active, err = reader.Active("run1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestReader_Follow(t *testing.T) {
	dir := t.TempDir()
	pm := NewPathManager(dir)

	logPath, err := pm.EnsureRunLog("run1")
	require.NoError(t, err)

	tw, err := LogOnlyWriter(logPath)
	require.NoError(t, err)
	require.NoError(t, tw.WriteLine("stdout", "before follow"))

	reader := NewReader(pm)
	output := &syncBuffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- reader.Follow(ctx, "run1", output, 10*time.Millisecond)
	}()

	// Give it time to start
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, tw.WriteLine("stdout", "new line 1"))
	require.NoError(t, tw.WriteLine("stderr", "new line 2"))

	require.Eventually(t, func() bool {
		return strings.Contains(output.String(), "new line 2")
	}, 2*time.Second, 10*time.Millisecond)

	// Releasing the writer ends the follow after a final drain
	require.NoError(t, tw.WriteLine("stderr", "last"))
	require.NoError(t, tw.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("follow did not stop after the writer closed")
	}

	result := output.String()
	assert.NotContains(t, result, "before follow")
	assert.Equal(t, "stdout | new line 1\nstderr | new line 2\nstderr | last\n", result)
}

func TestReader_Follow_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	pm := NewPathManager(dir)

	logPath, err := pm.EnsureRunLog("run1")
	require.NoError(t, err)
	tw, err := LogOnlyWriter(logPath)
	require.NoError(t, err)
	defer tw.Close()

	reader := NewReader(pm)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- reader.Follow(ctx, "run1", &syncBuffer{}, 50*time.Millisecond)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestReader_Follow_FinishedLog(t *testing.T) {
	dir := t.TempDir()
	createTestLog(t, dir, "run1", []string{"done"})

	reader := NewReader(NewPathManager(dir))
	output := &syncBuffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// No writer holds the log, so follow returns on the first poll
	require.NoError(t, reader.Follow(ctx, "run1", output, 10*time.Millisecond))
	assert.Empty(t, output.String())
}

func TestReader_FollowWithHistory(t *testing.T) {
	dir := t.TempDir()
	pm := NewPathManager(dir)

	logPath, err := pm.EnsureRunLog("run1")
	require.NoError(t, err)
	tw, err := LogOnlyWriter(logPath)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, tw.WriteLine("stdout", fmt.Sprintf("line%d", i)))
	}

	reader := NewReader(pm)
	output := &syncBuffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- reader.FollowWithHistory(ctx, "run1", output, 3, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(output.String(), "line5")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tw.WriteLine("stdout", "line6"))
	require.NoError(t, tw.Close())
	require.NoError(t, <-done)

	result := output.String()
	assert.Contains(t, result, "line3\n")
	assert.Contains(t, result, "line4\n")
	assert.Contains(t, result, "line5\n")
	assert.Contains(t, result, "line6\n")
	assert.NotContains(t, result, "line1\n")
	assert.NotContains(t, result, "line2\n")
}

func TestReader_Follow_PartialLines(t *testing.T) {
	dir := t.TempDir()
	pm := NewPathManager(dir)

	logPath, err := pm.EnsureRunLog("run1")
	require.NoError(t, err)
	tw, err := LogOnlyWriter(logPath)
	require.NoError(t, err)

	reader := NewReader(pm)
	output := &syncBuffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- reader.Follow(ctx, "run1", output, 10*time.Millisecond)
	}()

	time.Sleep(100 * time.Millisecond)

	// Write a partial line (no trailing newline)
	_, err = tw.Write([]byte("partial"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return output.String() == "partial"
	}, 2*time.Second, 10*time.Millisecond)

	_, err = tw.Write([]byte(" complete\nnext line\n"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, <-done)

	assert.Equal(t, "partial complete\nnext line\n", output.String())
}

func TestReadLastNLines_LargeFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "large.log")

	var lines []string
	for i := range 1000 {
		lines = append(lines, fmt.Sprintf("%04d %s", i, strings.Repeat("x", 100)))
	}
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0644))

	result, err := readLastNLines(logPath, 10)
	require.NoError(t, err)
	assert.Equal(t, lines[990:], result)
}

func TestReadAllLines_LongLine(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "long.log")
	long := strings.Repeat("y", 200*1024)
	require.NoError(t, os.WriteFile(logPath, []byte(long+"\nshort\n"), 0644))

	result, err := readAllLines(logPath)
	require.NoError(t, err)
	assert.Equal(t, []string{long, "short"}, result)
}
