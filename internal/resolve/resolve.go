// Package resolve turns a submitted URL into the set of downloadable
// stream variants, falling back to raw HTML scraping when the structured
// extractor comes up empty.
package resolve

import (
	"context"
	"errors"
	"net/url"

	"go.uber.org/zap"

	"github.com/posterity/media-archiver/generic"
	"github.com/posterity/media-archiver/util"
)

var (
	// ErrAgeRestricted means the source is gated behind an age/login
	// wall; retrying without different credentials cannot succeed.
	ErrAgeRestricted = errors.New("age restricted content requires cookies")
)

// directExtensions are container extensions that short-circuit resolution
// to a single synthetic "source" variant without any metadata fetch.
var directExtensions = generic.NewSet("flv", "m4v", "mkv", "mp4", "ogv", "webm")

// VideoFormat is one candidate video stream variant. Variants preserve
// the extractor's natural order; the last entry is usually the highest
// quality the extractor offers.
type VideoFormat struct {
	ID       string
	URL      string
	Width    int
	Height   int
	HasAudio bool
}

type AudioFormat struct {
	ID  string
	URL string
}

type Subtitle struct {
	Lang string
	URL  string
}

// ContentInfo is the resolver's output. An empty VideoFormats slice means
// resolution failed; callers must treat that as terminal for the input,
// not retry it.
type ContentInfo struct {
	VideoFormats []VideoFormat
	AudioFormats []AudioFormat
	Subtitles    []Subtitle
	Duration     float64 // seconds
	Title        string
	UploadDate   string
}

// Source returns a ContentInfo holding exactly one synthetic "source"
// variant, used for direct file URLs and scrape results.
func sourceOnly(rawURL, title string) *ContentInfo {
	return &ContentInfo{
		VideoFormats: []VideoFormat{{ID: "source", URL: rawURL}},
		Title:        title,
	}
}

type Resolver struct {
	extractor Extractor
	scraper   *scraper
	log       *zap.SugaredLogger
}

func New(extractor Extractor) *Resolver {
	return &Resolver{
		extractor: extractor,
		scraper:   newScraper(),
		log:       zap.S().Named("resolve"),
	}
}

// Resolve implements the resolution contract. Only ErrAgeRestricted is
// surfaced as an error; every other failure mode degrades to a
// ContentInfo with no video formats, which the caller treats as terminal.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*ContentInfo, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		r.log.Warnw("unparseable url", "url", rawURL, "err", err)
		return &ContentInfo{}, nil
	}

	if ext := util.ExtensionFromURL(parsed); directExtensions.Contains(ext) {
		r.log.Debugw("direct file url, skipping metadata fetch", "url", rawURL)
		title := "No title (" + ext + ")"
		if filename, err := util.FilenameFromURL(parsed); err == nil {
			title = filename
		}
		return sourceOnly(rawURL, title), nil
	}

	fetchURL := FixShortsURL(rawURL)
	extracted, err := r.extractor.Extract(ctx, fetchURL)
	switch {
	case errors.Is(err, ErrAgeRestricted):
		return nil, ErrAgeRestricted
	case err != nil:
		// Network and extractor failures all fall through to the
		// HTML-scrape path.
		r.log.Warnw("extractor failed, trying page scrape", "url", fetchURL, "err", err)
		return r.scrapeFallback(ctx, fetchURL), nil
	}

	if extracted.Duration <= 0 && isStreamingSite(fetchURL) {
		// No duration on a known streaming site means a current live
		// stream; those are never archived.
		r.log.Warnw("refusing to archive live stream", "url", fetchURL)
		return &ContentInfo{Title: extracted.Title}, nil
	}

	info := classify(extracted, fetchURL, r.log)

	if len(info.VideoFormats) == 0 {
		r.log.Infow("no usable formats from extractor, trying page scrape", "url", fetchURL)
		return r.scrapeFallback(ctx, fetchURL), nil
	}

	r.log.Infow("resolved content",
		"url", fetchURL,
		"video_formats", len(info.VideoFormats),
		"audio_formats", len(info.AudioFormats),
	)
	return info, nil
}

func (r *Resolver) scrapeFallback(ctx context.Context, rawURL string) *ContentInfo {
	title, candidates := r.scraper.sourceLinks(ctx, rawURL)
	if len(candidates) == 0 {
		r.log.Warnw("no video found by any means", "url", rawURL)
		return &ContentInfo{Title: title}
	}
	best := bestCandidate(candidates)
	r.log.Infow("found media url in page source", "url", rawURL, "media_url", best)
	return sourceOnly(best, title)
}
