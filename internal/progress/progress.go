// Package progress reads the side-channel log the transcoder appends to
// during an invocation, to report how far along it is and, after a
// decode-only pass, how many frames were actually produced.
package progress

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// How much of the log tail to inspect. The transcoder appends small
// key=value blocks, so a few KB always covers the most recent report.
const tailBytes = 16 * 1024

// How many lines from the end to scan before giving up.
const maxLines = 200

// State is the most recent progress reported by a transcoder invocation.
type State struct {
	Elapsed float64 // seconds of output produced so far
	Frames  int
}

// Last returns the most recent progress recorded in the log. A missing,
// empty or malformed log yields a zero State and no error; progress is
// advisory and must never fail a pipeline stage.
func Last(logPath string) State {
	data, err := tail(logPath, tailBytes)
	if err != nil || len(data) == 0 {
		return State{}
	}

	var state State
	haveTime, haveFrames := false, false
	lines := strings.Split(string(data), "\n")
	scanned := 0
	for i := len(lines) - 1; i >= 0 && scanned < maxLines; i-- {
		scanned++
		line := strings.TrimSpace(lines[i])
		switch {
		case !haveTime && strings.HasPrefix(line, "out_time="):
			state.Elapsed = parseClock(strings.TrimPrefix(line, "out_time="))
			haveTime = true
		case !haveFrames && strings.HasPrefix(line, "frame="):
			if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "frame="))); err == nil {
				state.Frames = n
			}
			haveFrames = true
		}
		if haveTime && haveFrames {
			break
		}
	}
	return state
}

// Fraction reports completion in [0, 1] against a known total duration.
func (s State) Fraction(duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, s.Elapsed/duration))
}

// FrameCountOK compares a decoded frame count against the expected
// fps*duration within a relative tolerance.
func FrameCountOK(frames int, fps, duration, tolerance float64) bool {
	expected := fps * duration
	if expected <= 0 {
		return false
	}
	return math.Abs(float64(frames)-expected) <= expected*tolerance
}

// parseClock parses the transcoder's HH:MM:SS.micro timestamps,
// defaulting malformed input to zero.
func parseClock(s string) float64 {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 {
		return 0
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds
}

// tail reads at most n bytes from the end of the file.
func tail(path string, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := info.Size() - n
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// Reset truncates the log so a later invocation can never read stale
// progress, creating it empty (and its directory) if absent.
func Reset(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}
