// Package ffcmd builds argument lists for the external transcoder. It
// never executes anything; running and supervising the subprocess is the
// pipeline's job.
package ffcmd

import (
	"fmt"
	"strconv"
)

// Binary is the transcoder executable name resolved via PATH.
const Binary = "ffmpeg"

// common are the flags shared by every invocation: never prompt, always
// overwrite the target.
func common(progressLog string) []string {
	args := []string{"-nostdin", "-hide_banner", "-y"}
	if progressLog != "" {
		args = append(args, "-progress", progressLog, "-nostats")
	}
	return args
}

// DownloadMux describes a download+mux invocation: pull the video stream
// (and optional separate audio/subtitle streams) over HTTP and write a
// single normalized container straight to Output.
type DownloadMux struct {
	VideoURL    string
	AudioURL    string
	SubURL      string
	Output      string
	ProgressLog string
	// Normalize applies dynamic loudness normalization to the audio.
	Normalize bool
}

func (d DownloadMux) Args() []string {
	args := common(d.ProgressLog)
	args = append(args, "-i", d.VideoURL)
	if d.AudioURL != "" {
		args = append(args, "-i", d.AudioURL)
	}
	if d.SubURL != "" {
		args = append(args, "-i", d.SubURL)
	}

	switch {
	case d.AudioURL != "":
		// A separate audio track needs an explicit stream mapping.
		args = append(args, "-map", "0:v", "-map", "1:a")
		if d.SubURL != "" {
			args = append(args, "-map", "2:s", "-c:s", "mov_text")
		}
		args = append(args, "-c:a", "libopus")
	case d.SubURL != "":
		args = append(args, "-map", "1:s", "-c:s", "mov_text")
	}

	args = append(args, "-vf", "yadif=parity=auto")
	args = append(args, "-c:v", "libx264", "-f", "mp4")
	if d.Normalize {
		args = append(args, "-af", "dynaudnorm=p=0.85")
	}
	args = append(args, "-http_persistent", "0", d.Output)
	return args
}

// Reencode describes the post-processing pass: a single-pass re-encode to
// a capped frame rate and a content-adaptive quality parameter.
type Reencode struct {
	Input        string
	Output       string
	FrameRate    float64
	VideoBitrate int // bits/s ceiling
	AudioBitrate int // bits/s ceiling
	CRF          int
	ProgressLog  string
}

func (r Reencode) Args() []string {
	args := common(r.ProgressLog)
	args = append(args, "-i", r.Input)
	args = append(args, "-vf", "yadif=parity=auto")
	args = append(args,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(r.CRF),
		"-maxrate", strconv.Itoa(r.VideoBitrate),
		"-bufsize", strconv.Itoa(r.VideoBitrate*2),
		"-r", fmt.Sprintf("%g", r.FrameRate),
		"-c:a", "aac",
		"-b:a", strconv.Itoa(r.AudioBitrate),
		"-movflags", "+faststart",
	)
	args = append(args, r.Output)
	return args
}

// Validate describes the decode-only pass used to count frames: decode
// Input into a null sink while reporting progress to ProgressLog.
type Validate struct {
	Input       string
	ProgressLog string
}

func (v Validate) Args() []string {
	args := common(v.ProgressLog)
	args = append(args, "-i", v.Input, "-f", "null", "-")
	return args
}

// ExtractFrame grabs a single frame at Offset seconds, scaled to Width
// (height preserved by aspect), for artifact generation.
type ExtractFrame struct {
	Input  string
	Output string
	Offset float64
	Width  int
}

func (e ExtractFrame) Args() []string {
	args := common("")
	args = append(args,
		"-ss", fmt.Sprintf("%g", e.Offset),
		"-i", e.Input,
		"-vf", fmt.Sprintf("scale=%d:-1", e.Width),
		"-frames:v", "1",
		e.Output,
	)
	return args
}
