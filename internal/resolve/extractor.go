package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// FormatDescriptor is one stream variant as reported by the metadata
// extractor, before classification.
type FormatDescriptor struct {
	ID       string // extractor format id, e.g. an itag number
	Label    string // human-readable format note, e.g. "720p"
	URL      string
	Width    int
	Height   int
	VCodec   string
	ACodec   string
	HasAudio bool
}

// ExtractResult is the raw output contract of the stream-metadata
// extractor boundary.
type ExtractResult struct {
	Formats    []FormatDescriptor
	Subtitles  []Subtitle
	Duration   float64
	Title      string
	UploadDate string
}

// Extractor fetches stream metadata for a URL. Implementations are
// treated as a black box beyond this output contract.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (*ExtractResult, error)
}

// YouTubeExtractor backs the extractor boundary with the youtube client
// library for the archive's primary source site.
type YouTubeExtractor struct {
	client youtube.Client
}

func NewYouTubeExtractor() *YouTubeExtractor {
	return &YouTubeExtractor{}
}

func (e *YouTubeExtractor) Extract(ctx context.Context, rawURL string) (*ExtractResult, error) {
	videoID, err := extractVideoID(rawURL)
	if err != nil {
		return nil, fmt.Errorf("not a recognized video url: %w", err)
	}

	video, err := e.client.GetVideoContext(ctx, videoID)
	if err != nil {
		if errors.Is(err, youtube.ErrLoginRequired) {
			return nil, ErrAgeRestricted
		}
		return nil, fmt.Errorf("metadata fetch failed: %w", err)
	}

	result := &ExtractResult{
		Duration: video.Duration.Seconds(),
		Title:    video.Title,
	}
	if !video.PublishDate.IsZero() {
		result.UploadDate = video.PublishDate.Format("2006-01-02")
	}

	for _, f := range video.Formats {
		vcodec, acodec := splitCodecs(f.MimeType)
		result.Formats = append(result.Formats, FormatDescriptor{
			ID:       strconv.Itoa(f.ItagNo),
			Label:    f.QualityLabel,
			URL:      f.URL,
			Width:    f.Width,
			Height:   f.Height,
			VCodec:   vcodec,
			ACodec:   acodec,
			HasAudio: f.AudioChannels > 0,
		})
	}
	return result, nil
}

// splitCodecs pulls the video and audio codec tags out of a MIME type
// like `video/mp4; codecs="avc1.640028, mp4a.40.2"`.
func splitCodecs(mimeType string) (vcodec, acodec string) {
	isVideo := strings.HasPrefix(mimeType, "video/")
	_, params, found := strings.Cut(mimeType, "codecs=")
	if !found {
		return "", ""
	}
	params = strings.Trim(params, `"`)
	for _, codec := range strings.Split(params, ",") {
		codec = strings.TrimSpace(codec)
		switch {
		case strings.HasPrefix(codec, "avc1") || strings.HasPrefix(codec, "vp9") ||
			strings.HasPrefix(codec, "vp09") || strings.HasPrefix(codec, "av01"):
			vcodec = codec
		case strings.HasPrefix(codec, "mp4a") || strings.HasPrefix(codec, "opus"):
			acodec = codec
		case isVideo && vcodec == "":
			vcodec = codec
		case acodec == "":
			acodec = codec
		}
	}
	return vcodec, acodec
}

// extractVideoID pulls the video ID from the usual URL shapes:
//
//	http(s)://(www|m).youtube.com/(watch|details)?v={ID}
//	http(s)://(www|m).youtube.com/(v|embed)/{ID}
//	http(s)://youtu.be/{ID}
func extractVideoID(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	var id string
	switch parsed.Hostname() {
	case "www.youtube.com", "m.youtube.com", "youtube.com":
		switch {
		case strings.HasPrefix(parsed.Path, "/v/"), strings.HasPrefix(parsed.Path, "/embed/"):
			parts := strings.SplitN(parsed.Path, "/", 3)
			id = parts[len(parts)-1]
		case parsed.Path == "/watch" || parsed.Path == "/details":
			id = parsed.Query().Get("v")
		}
	case "youtu.be":
		id = strings.Trim(parsed.Path, "/")
	default:
		return "", fmt.Errorf("unrecognized hostname %q", parsed.Hostname())
	}
	if id == "" {
		return "", errors.New("could not extract video ID")
	}
	return id, nil
}
