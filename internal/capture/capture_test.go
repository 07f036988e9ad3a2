package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStream_String(t *testing.T) {
	assert.Equal(t, "stdout", Stdout.String())
	assert.Equal(t, "stderr", Stderr.String())
	assert.Equal(t, "stream(7)", Stream(7).String())
}

func TestExitMarker(t *testing.T) {
	assert.Equal(t, "--EXIT:0--", ExitMarker(0))
	assert.Equal(t, "--EXIT:2--", ExitMarker(2))
	assert.Equal(t, "--EXIT:-1--", ExitMarker(-1))
}

func TestParseExitMarker(t *testing.T) {
	tests := []struct {
		line   string
		want   int
		wantOK bool
	}{
		{"--EXIT:0--", 0, true},
		{"--EXIT:42--", 42, true},
		{"--EXIT:-1--", -1, true},
		{"--EXIT:--", 0, false},
		{"--EXIT:abc--", 0, false},
		{"--EXIT:2", 0, false},
		{"EXIT:2--", 0, false},
		{" --EXIT:2--", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			code, ok := ParseExitMarker(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestParseExitMarker_RoundTrip(t *testing.T) {
	for _, code := range []int{0, 1, 2, 127, 255, -1} {
		got, ok := ParseExitMarker(ExitMarker(code))
		assert.True(t, ok)
		assert.Equal(t, code, got)
	}
}

func TestDump_String(t *testing.T) {
	t.Run("renders both sections", func(t *testing.T) {
		d := Dump{Stdout: "a\nb\n", Stderr: "err1\n--EXIT:2--\n"}

		assert.Equal(t,
			"--- Standard output:\na\nb\n--- Standard error:\nerr1\n--EXIT:2--\n",
			d.String())
	})

	t.Run("omits whitespace-only sections", func(t *testing.T) {
		d := Dump{Stdout: "\n \n", Stderr: "--EXIT:0--\n"}

		assert.Equal(t, "--- Standard error:\n--EXIT:0--\n", d.String())
	})

	t.Run("empty dump renders empty", func(t *testing.T) {
		assert.Equal(t, "", Dump{}.String())
		assert.True(t, Dump{}.IsEmpty())
	})
}

func TestDump_ExitCode(t *testing.T) {
	code, ok := Dump{Stderr: "boom\n--EXIT:3--\n"}.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, 3, code)

	_, ok = Dump{Stderr: "still running\n"}.ExitCode()
	assert.False(t, ok)

	_, ok = Dump{}.ExitCode()
	assert.False(t, ok)
}
