// Package probe reads authoritative technical metadata off a finished
// media file via the transcoder's companion prober.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const Binary = "ffprobe"

// TechInfo is the technical metadata of a media file. Values probed from
// the actual file supersede anything the resolver estimated.
type TechInfo struct {
	FileSize   int64
	Duration   float64
	Width      int
	Height     int
	BitRate    int
	FrameRate  float64
	HasAudio   bool
	VideoCodec string
	AudioCodec string
}

// AspectRatio is width/height, or 0 when dimensions are unknown.
func (t TechInfo) AspectRatio() float64 {
	if t.Width <= 0 || t.Height <= 0 {
		return 0
	}
	return float64(t.Width) / float64(t.Height)
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecName    string `json:"codec_name"`
	CodecTag     string `json:"codec_tag_string"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

// File probes path. A missing file is an error; a probe failure on an
// existing file degrades to size-only info, since a corrupt output still
// has a size worth recording.
func File(ctx context.Context, path string) (TechInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return TechInfo{}, fmt.Errorf("probe target missing: %w", err)
	}
	info := TechInfo{FileSize: stat.Size()}

	cmd := exec.CommandContext(ctx, Binary,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return info, fmt.Errorf("probe failed: %w", err)
	}
	parsed, err := Parse(output)
	if err != nil {
		return info, err
	}
	parsed.FileSize = info.FileSize
	return parsed, nil
}

// Parse decodes the prober's JSON report into a TechInfo. Individual
// malformed fields are skipped rather than failing the whole probe.
func Parse(report []byte) (TechInfo, error) {
	var ff ffprobeOutput
	if err := json.Unmarshal(report, &ff); err != nil {
		return TechInfo{}, fmt.Errorf("unparseable probe report: %w", err)
	}

	var info TechInfo
	if v, err := strconv.ParseFloat(ff.Format.Duration, 64); err == nil {
		info.Duration = v
	}
	if v, err := strconv.Atoi(ff.Format.BitRate); err == nil {
		info.BitRate = v
	}
	if v, err := strconv.ParseInt(ff.Format.Size, 10, 64); err == nil {
		info.FileSize = v
	}

	for _, stream := range ff.Streams {
		switch stream.CodecType {
		case "video":
			if info.VideoCodec == "" {
				if stream.CodecName != "" {
					info.VideoCodec = stream.CodecName
				} else {
					info.VideoCodec = stream.CodecTag
				}
			}
			if stream.Width > 0 && stream.Height > 0 {
				info.Width, info.Height = stream.Width, stream.Height
			}
			if fps := parseRate(stream.AvgFrameRate); fps > 0 {
				info.FrameRate = fps
			}
		case "audio":
			info.HasAudio = true
			if info.AudioCodec == "" {
				if stream.CodecName != "" {
					info.AudioCodec = stream.CodecName
				} else {
					info.AudioCodec = stream.CodecTag
				}
			}
		}
	}
	return info, nil
}

// parseRate handles the prober's fractional rates ("30000/1001") as well
// as plain numbers.
func parseRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	if !found {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return v
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
