package resolve

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/posterity/media-archiver/generic"
)

// Fixed-resolution tiers of the archive's primary source site, keyed by
// extractor format id. Descriptors matching these get a stable variant
// name and known dimensions even when the extractor omits them.
var videoTiers = map[string]struct {
	Name   string
	Width  int
	Height int
}{
	"299": {"YT 1080p60", 1920, 1080},
	"137": {"YT 1080p", 1920, 1080},
	"136": {"YT 720p", 1280, 720},
	"95":  {"YT 720p2", 1280, 720},
	"93":  {"YT 640p", 640, 360},
	"135": {"YT 480p", 854, 480},
	"134": {"YT 360p", 640, 360},
	"133": {"YT 240p", 426, 240},
}

var audioTiers = map[string]string{
	"249": "Opus VBR 50kbps",
	"250": "Opus VBR 70kbps",
	"251": "Opus VBR 160kbps",
	"139": "AAC 48kbps",
	"140": "AAC 128kbps",
}

var subtitleLangs = generic.NewSet("en", "no")

// Domains whose live manifests must never be archived.
var streamingDomains = []string{"youtube.com", "youtu.be", "yt.com", "twitch.com", "twitch.tv"}

var (
	hlsIDPattern  = regexp.MustCompile(`^hls[-_](?:\d+p-)?\d+`)
	dashIDPattern = regexp.MustCompile(`^\d+v$`)
	avcIDPattern  = regexp.MustCompile(`^avc1\.[0-9A-Fa-f]{6}$`)
)

func isStreamingSite(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, domain := range streamingDomains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return false
}

// isLiveManifest reports whether a playback URL is an adaptive-streaming
// manifest on a known streaming domain, i.e. a live stream.
func isLiveManifest(rawURL string) bool {
	if !strings.Contains(strings.ToLower(rawURL), ".m3u8") {
		return false
	}
	return isStreamingSite(rawURL)
}

// heightToWidth guesses a conventional width for descriptors that only
// declare their height.
func heightToWidth(h int) int {
	switch {
	case h > 720 && h <= 1080:
		return 1920
	case h > 576 && h <= 720:
		return 1280
	case h > 480 && h <= 576:
		return 720
	case h > 360 && h <= 480:
		return 640
	case h > 240 && h <= 360:
		return 480
	case h <= 240:
		return 360
	default:
		return h
	}
}

func isNumericID(id string) bool {
	_, err := strconv.Atoi(id)
	return err == nil
}

// classify sorts raw format descriptors into the typed ContentInfo
// buckets: fixed tiers, generic HTTP segment (HLS), adaptive (DASH) and
// raw codec-tagged formats. Unrecognized descriptors are dropped with a
// warning; live manifests are excluded outright.
func classify(extracted *ExtractResult, sourceURL string, log *zap.SugaredLogger) *ContentInfo {
	info := &ContentInfo{
		Duration:   extracted.Duration,
		Title:      extracted.Title,
		UploadDate: extracted.UploadDate,
	}

	for _, sub := range extracted.Subtitles {
		if subtitleLangs.Contains(sub.Lang) {
			info.Subtitles = append(info.Subtitles, sub)
		}
	}

	for _, d := range extracted.Formats {
		if isLiveManifest(d.URL) {
			log.Warnw("excluding live stream manifest", "format_id", d.ID)
			continue
		}

		width, height := d.Width, d.Height
		if width == 0 && height > 0 {
			width = heightToWidth(height)
		}

		if d.VCodec != "" && d.VCodec != "none" {
			if tier, ok := videoTiers[d.ID]; ok {
				if width == 0 {
					width, height = tier.Width, tier.Height
				}
				info.VideoFormats = append(info.VideoFormats, VideoFormat{
					ID: tier.Name, URL: d.URL, Width: width, Height: height, HasAudio: d.HasAudio,
				})
			} else if classifiableID(d.ID) {
				info.VideoFormats = append(info.VideoFormats, VideoFormat{
					ID: variantName(d), URL: d.URL, Width: width, Height: height, HasAudio: d.HasAudio,
				})
			} else {
				log.Warnw("dropping unrecognized video format",
					"format_id", d.ID, "vcodec", d.VCodec, "label", d.Label)
			}
		}

		if d.ACodec != "" && d.ACodec != "none" {
			if name, ok := audioTiers[d.ID]; ok {
				info.AudioFormats = append(info.AudioFormats, AudioFormat{ID: name, URL: d.URL})
			} else if d.VCodec == "" || d.VCodec == "none" {
				// Audio-only format outside the known tiers; keep it
				// under its extractor label.
				info.AudioFormats = append(info.AudioFormats, AudioFormat{ID: variantName(d), URL: d.URL})
			}
		}
	}

	return info
}

// classifiableID accepts generic HTTP segment formats (hls-N), adaptive
// formats (NNNv), raw codec tags (avc1.XXXXXX) and plain numeric ids.
func classifiableID(id string) bool {
	return hlsIDPattern.MatchString(id) ||
		dashIDPattern.MatchString(id) ||
		avcIDPattern.MatchString(id) ||
		isNumericID(id)
}

func variantName(d FormatDescriptor) string {
	if d.Label != "" {
		return d.Label + " (" + d.ID + ")"
	}
	return d.ID
}
