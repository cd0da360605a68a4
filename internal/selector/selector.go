// Package selector picks the best stream variant under a resolution
// ceiling derived from the content's duration.
package selector

import (
	"strings"

	"github.com/posterity/media-archiver/internal/resolve"
)

// Tag preference used when no variant carries dimension metadata.
var taggedFallbacks = []string{"1920x1080", "1080p", "720p"}

// Select chooses the variant to download. Variants whose smaller
// dimension exceeds ceiling are excluded; among the rest, variants with
// muxed audio are preferred, then the one maximizing min(width, height).
// Ties go to the later variant in natural order, since extractors tend to
// list better encodes last. Returns ("", false) only when formats is
// empty.
func Select(formats []resolve.VideoFormat, ceiling int) (id string, audioMuxed bool) {
	if len(formats) == 0 {
		return "", false
	}

	allowed := make([]resolve.VideoFormat, 0, len(formats))
	anyDimensions := false
	for _, f := range formats {
		if minDim(f) > ceiling {
			continue
		}
		if f.Width > 0 || f.Height > 0 {
			anyDimensions = true
		}
		allowed = append(allowed, f)
	}
	if len(allowed) == 0 {
		// Everything busts the ceiling; take the smallest variant
		// rather than nothing.
		best := formats[0]
		for _, f := range formats[1:] {
			if minDim(f) <= minDim(best) {
				best = f
			}
		}
		return best.ID, best.HasAudio
	}

	if !anyDimensions {
		return selectByTag(allowed)
	}

	var best *resolve.VideoFormat
	for i := range allowed {
		f := &allowed[i]
		if best == nil {
			best = f
			continue
		}
		switch {
		case f.HasAudio && !best.HasAudio:
			best = f
		case !f.HasAudio && best.HasAudio:
			// keep best
		case minDim(*f) >= minDim(*best):
			// >= implements the later-wins tie-break
			best = f
		}
	}
	return best.ID, best.HasAudio
}

// minDim is the smaller of the variant's dimensions, so ultra-wide
// low-quality encodes don't masquerade as high resolution.
func minDim(f resolve.VideoFormat) int {
	if f.Width == 0 && f.Height == 0 {
		return 0
	}
	if f.Width == 0 {
		return f.Height
	}
	if f.Height == 0 {
		return f.Width
	}
	if f.Width < f.Height {
		return f.Width
	}
	return f.Height
}

func selectByTag(formats []resolve.VideoFormat) (string, bool) {
	for _, tag := range taggedFallbacks {
		for i := len(formats) - 1; i >= 0; i-- {
			if strings.Contains(formats[i].ID, tag) {
				return formats[i].ID, formats[i].HasAudio
			}
		}
	}
	last := formats[len(formats)-1]
	return last.ID, last.HasAudio
}
