package archiver

import "time"

// DurationBracket caps the allowed vertical resolution for content up to
// MaxDuration, so longer material is archived at a lower tier.
type DurationBracket struct {
	MaxDuration       time.Duration
	ResolutionCeiling int
}

type Config struct {
	// Directory layout; see MediaPaths for the per-video file convention.
	MediaDir     string
	ProcessedDir string
	TmpDir       string

	// Hard ceiling on resolved duration; anything longer is rejected
	// outright instead of downloaded.
	MaxDuration time.Duration
	// Brackets in ascending MaxDuration order. The first bracket whose
	// MaxDuration is >= the resolved duration decides the ceiling.
	Brackets []DurationBracket

	// Relative tolerance used both when validating the decoded frame
	// count and when comparing probed duration against the resolver's.
	ValidationTolerance float64

	// Post-processing knobs. MinBitratePerPixel/MaxBitratePerPixel are
	// the linear coefficients defining the acceptable bitrate band for
	// a normalized (30fps) pixel count.
	MinBitratePerPixel float64
	MaxBitratePerPixel float64
	CRFLight           int
	CRFHeavy           int
	HighFPSThreshold   float64
	FPSCap             float64
	AudioBitrateCap    int
	// Bitrate pressure at or above which Recommend flags a video, and
	// the absolute bitrate below which it never does.
	RecommendPressure float64
	BitrateFloor      int

	// Duplicate detection thresholds.
	DurationThreshold float64
	AspectThreshold   float64
	PHashMaxDistance  int

	// Artifact geometry.
	PreviewWidth    int
	PreviewHeight   int
	ThumbnailSize   int
	BlurAmount      float64
	// Desaturate also converts the blurred variants to grayscale.
	Desaturate      bool
	FrameOffset     float64
	MinOffsetLength float64

	// Minimum interval between progress events emitted while a
	// transcoder subprocess is running.
	ProgressInterval time.Duration
}

var DefaultConfig = Config{
	MediaDir:     "media",
	ProcessedDir: "media/processed",
	TmpDir:       "media/tmp",

	MaxDuration: 8 * time.Hour,
	Brackets: []DurationBracket{
		{MaxDuration: 30 * time.Minute, ResolutionCeiling: 2160},
		{MaxDuration: 2 * time.Hour, ResolutionCeiling: 1080},
		{MaxDuration: 8 * time.Hour, ResolutionCeiling: 720},
	},

	ValidationTolerance: 0.10,

	MinBitratePerPixel: 1.5,
	MaxBitratePerPixel: 7.5,
	CRFLight:           24,
	CRFHeavy:           30,
	HighFPSThreshold:   48,
	FPSCap:             60,
	AudioBitrateCap:    128_000,
	RecommendPressure:  0.5,
	BitrateFloor:       1_000_000,

	DurationThreshold: 0.10,
	AspectThreshold:   0.05,
	PHashMaxDistance:  6,

	PreviewWidth:    1280,
	PreviewHeight:   720,
	ThumbnailSize:   64,
	BlurAmount:      0.33,
	FrameOffset:     10.0,
	MinOffsetLength: 10.0,

	ProgressInterval: 500 * time.Millisecond,
}

// ResolutionCeiling returns the maximum allowed vertical resolution for
// content of the given duration, or 0 if the duration exceeds MaxDuration.
func (c *Config) ResolutionCeiling(duration time.Duration) int {
	if duration > c.MaxDuration {
		return 0
	}
	for _, b := range c.Brackets {
		if duration <= b.MaxDuration {
			return b.ResolutionCeiling
		}
	}
	if len(c.Brackets) > 0 {
		return c.Brackets[len(c.Brackets)-1].ResolutionCeiling
	}
	return 0
}
