// Package images generates the preview and thumbnail artifacts for an
// archived video: a single frame is pulled out of the file, then resized,
// blurred and annotated into the four artifact files.
package images

import (
	"context"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	archiver "github.com/posterity/media-archiver"
	"github.com/posterity/media-archiver/internal/ffcmd"
)

// warningColors maps content-warning keywords to the overlay color used
// for that line of text. Unmatched lines render in the neutral color.
var warningColors = []struct {
	keywords []string
	color    color.RGBA
}{
	{[]string{"graphic", "violen", "gore", "death", "blood"}, color.RGBA{R: 0xe0, G: 0x30, B: 0x30, A: 0xff}},
	{[]string{"distress", "emotional", "shock", "disturbing"}, color.RGBA{R: 0xf0, G: 0xa0, B: 0x20, A: 0xff}},
}

var neutralColor = color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}

type Generator struct {
	cfg archiver.Config
	log *zap.SugaredLogger

	// extractFrame is swappable so tests can feed a synthetic frame
	// instead of invoking the transcoder.
	extractFrame func(ctx context.Context, videoPath, framePath string, offset float64, width int) error
}

func New(cfg archiver.Config) *Generator {
	g := &Generator{
		cfg: cfg,
		log: zap.S().Named("images"),
	}
	g.extractFrame = g.runExtract
	return g
}

// Generate produces the preview, blurred preview, thumbnail and blurred
// thumbnail for id, overlaying warning text on the previews when set.
// Returns true only when every artifact was written.
func (g *Generator) Generate(ctx context.Context, id archiver.VideoID, duration float64, warning string) bool {
	log := g.log.With("video_id", id)
	paths := g.cfg.Paths()

	offset := g.cfg.FrameOffset
	if duration < g.cfg.MinOffsetLength {
		offset = 0
	}

	framePath := filepath.Join(paths.TmpDir, string(id)+"_frame.png")
	defer os.Remove(framePath)
	if err := g.extractFrame(ctx, paths.Video(id), framePath, offset, g.cfg.PreviewWidth); err != nil {
		log.Warnw("frame extraction failed", "error", err)
		return false
	}

	frame, err := imaging.Open(framePath)
	if err != nil {
		log.Warnw("failed to read extracted frame", "error", err)
		return false
	}

	artifacts := g.buildArtifacts(frame, warning)
	for path, img := range map[string]image.Image{
		paths.Preview(id):          artifacts.Preview,
		paths.BlurredPreview(id):   artifacts.BlurredPreview,
		paths.Thumbnail(id):        artifacts.Thumbnail,
		paths.BlurredThumbnail(id): artifacts.BlurredThumbnail,
	} {
		if err := imaging.Save(img, path, imaging.JPEGQuality(85)); err != nil {
			log.Warnw("failed to save artifact", "path", path, "error", err)
			return false
		}
	}
	return true
}

type artifacts struct {
	Preview          image.Image
	BlurredPreview   image.Image
	Thumbnail        image.Image
	BlurredThumbnail image.Image
}

func (g *Generator) buildArtifacts(frame image.Image, warning string) artifacts {
	preview := imaging.Fit(frame, g.cfg.PreviewWidth, g.cfg.PreviewHeight, imaging.Lanczos)
	previewSigma := float64(preview.Bounds().Dx()) / 32 * g.cfg.BlurAmount
	blurredPreview := g.blur(preview, previewSigma)

	thumb := imaging.Fill(frame, g.cfg.ThumbnailSize, g.cfg.ThumbnailSize, imaging.Center, imaging.Lanczos)
	thumbSigma := float64(thumb.Bounds().Dx()) / 16 * g.cfg.BlurAmount
	blurredThumb := g.blur(thumb, thumbSigma)

	out := artifacts{
		Preview:          preview,
		BlurredPreview:   blurredPreview,
		Thumbnail:        thumb,
		BlurredThumbnail: blurredThumb,
	}
	if warning != "" {
		out.Preview = overlayWarning(preview, warning)
		out.BlurredPreview = overlayWarning(blurredPreview, warning)
	}
	return out
}

func (g *Generator) blur(img image.Image, sigma float64) image.Image {
	out := imaging.Blur(img, sigma)
	if g.cfg.Desaturate {
		return imaging.Grayscale(out)
	}
	return out
}

func (g *Generator) runExtract(ctx context.Context, videoPath, framePath string, offset float64, width int) error {
	args := ffcmd.ExtractFrame{
		Input:  videoPath,
		Output: framePath,
		Offset: offset,
		Width:  width,
	}.Args()
	cmd := exec.CommandContext(ctx, ffcmd.Binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		g.log.Debugw("frame extraction output", "output", string(output))
		return err
	}
	return nil
}

// overlayWarning draws warning text line by line, centered, with a dark
// stroke outline so it stays readable on any frame.
func overlayWarning(img image.Image, warning string) image.Image {
	bounds := img.Bounds()
	dc := gg.NewContext(bounds.Dx(), bounds.Dy())
	dc.DrawImage(img, 0, 0)

	size := fontSizeFor(bounds.Dx())
	dc.SetFontFace(loadFace(size))

	lines := warningLines(warning)
	lineHeight := size * 1.4
	startY := float64(bounds.Dy())/2 - lineHeight*float64(len(lines)-1)/2
	for i, line := range lines {
		x := float64(bounds.Dx()) / 2
		y := startY + lineHeight*float64(i)
		dc.SetColor(color.RGBA{A: 0xe0})
		for _, offset := range [][2]float64{{-2, 0}, {2, 0}, {0, -2}, {0, 2}} {
			dc.DrawStringAnchored(line, x+offset[0], y+offset[1], 0.5, 0.5)
		}
		dc.SetColor(lineColor(line))
		dc.DrawStringAnchored(line, x, y, 0.5, 0.5)
	}
	return dc.Image()
}

// warningLines splits a warning like "graphic, distress" into one
// renderable line per term.
func warningLines(warning string) []string {
	var lines []string
	for _, part := range strings.FieldsFunc(warning, func(r rune) bool { return r == ',' || r == '\n' || r == '/' }) {
		if part = strings.TrimSpace(part); part != "" {
			lines = append(lines, strings.ToUpper(part))
		}
	}
	return lines
}

func lineColor(line string) color.RGBA {
	lowered := strings.ToLower(line)
	for _, entry := range warningColors {
		for _, keyword := range entry.keywords {
			if strings.Contains(lowered, keyword) {
				return entry.color
			}
		}
	}
	return neutralColor
}

func fontSizeFor(width int) float64 {
	switch {
	case width >= 1024:
		return 48
	case width >= 512:
		return 32
	default:
		return 18
	}
}

func loadFace(size float64) font.Face {
	parsed, err := truetype.Parse(gobold.TTF)
	if err != nil {
		panic(err)
	}
	return truetype.NewFace(parsed, &truetype.Options{Size: size})
}
