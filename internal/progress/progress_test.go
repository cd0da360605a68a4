package progress

import (
	"os"
	"path/filepath"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "progress.log")
	require_.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLastReadsMostRecentReport(t *testing.T) {
	assert := assert_.New(t)

	path := writeLog(t, `frame=120
out_time=00:00:04.000000
progress=continue
frame=300
out_time=00:00:10.500000
progress=continue
`)
	state := Last(path)
	assert.Equal(300, state.Frames)
	assert.InDelta(10.5, state.Elapsed, 1e-9)
}

func TestLastMissingOrEmpty(t *testing.T) {
	assert := assert_.New(t)

	// Missing file: zero state, no panic.
	state := Last(filepath.Join(t.TempDir(), "nope.log"))
	assert.Zero(state.Elapsed)
	assert.Zero(state.Frames)

	state = Last(writeLog(t, ""))
	assert.Zero(state.Elapsed)
	assert.Zero(state.Frames)
}

func TestLastMalformed(t *testing.T) {
	assert := assert_.New(t)

	state := Last(writeLog(t, "out_time=garbage\nframe=notanumber\n"))
	assert.Zero(state.Elapsed)
	assert.Zero(state.Frames)

	state = Last(writeLog(t, "out_time=1:2\nframe=-\n"))
	assert.Zero(state.Elapsed)
}

func TestLastHoursRollover(t *testing.T) {
	assert := assert_.New(t)

	state := Last(writeLog(t, "out_time=01:30:15.250000\n"))
	assert.InDelta(5415.25, state.Elapsed, 1e-9)
}

func TestFraction(t *testing.T) {
	assert := assert_.New(t)

	s := State{Elapsed: 30}
	assert.InDelta(0.25, s.Fraction(120), 1e-9)
	assert.Equal(1.0, State{Elapsed: 500}.Fraction(120))
	assert.Equal(0.0, s.Fraction(0))
}

func TestFrameCountOK(t *testing.T) {
	assert := assert_.New(t)

	// 30fps * 120s = 3600 expected frames, ±10%.
	assert.True(FrameCountOK(3600, 30, 120, 0.10))
	assert.True(FrameCountOK(3300, 30, 120, 0.10))
	assert.True(FrameCountOK(3900, 30, 120, 0.10))
	assert.False(FrameCountOK(3200, 30, 120, 0.10))
	assert.False(FrameCountOK(4000, 30, 120, 0.10))
	assert.False(FrameCountOK(100, 0, 120, 0.10))
}

func TestReset(t *testing.T) {
	assert := assert_.New(t)

	path := writeLog(t, "frame=99\nout_time=00:00:09.000000\n")
	assert.NoError(Reset(path))
	state := Last(path)
	assert.Zero(state.Frames)
	assert.Zero(state.Elapsed)
}
