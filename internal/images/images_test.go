package images

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/disintegration/imaging"
	assert_ "github.com/stretchr/testify/assert"

	archiver "github.com/posterity/media-archiver"
)

func testConfig(t *testing.T) archiver.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := archiver.DefaultConfig
	cfg.MediaDir = dir
	cfg.ProcessedDir = dir
	cfg.TmpDir = dir
	return cfg
}

func testFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func TestBuildArtifactSizes(t *testing.T) {
	assert := assert_.New(t)

	g := New(testConfig(t))
	out := g.buildArtifacts(testFrame(1920, 1080), "")

	assert.Equal(1280, out.Preview.Bounds().Dx())
	assert.Equal(720, out.Preview.Bounds().Dy())
	assert.Equal(64, out.Thumbnail.Bounds().Dx())
	assert.Equal(64, out.Thumbnail.Bounds().Dy())
	assert.Equal(out.Preview.Bounds(), out.BlurredPreview.Bounds())
	assert.Equal(out.Thumbnail.Bounds(), out.BlurredThumbnail.Bounds())
}

func TestDesaturateGrayscalesBlurredVariants(t *testing.T) {
	assert := assert_.New(t)

	cfg := testConfig(t)
	cfg.Desaturate = true
	out := New(cfg).buildArtifacts(testFrame(640, 360), "")

	bounds := out.BlurredPreview.Bounds()
	r, gr, b, _ := out.BlurredPreview.At(bounds.Dx()/2, bounds.Dy()/2).RGBA()
	assert.Equal(r, gr)
	assert.Equal(gr, b)
}

func TestBlurredPreviewKeepsColorByDefault(t *testing.T) {
	assert := assert_.New(t)

	// a saturated frame stays saturated after blurring
	red := image.NewRGBA(image.Rect(0, 0, 640, 360))
	for x := 0; x < 640; x++ {
		for y := 0; y < 360; y++ {
			red.Set(x, y, color.RGBA{R: 200, G: 20, B: 20, A: 255})
		}
	}
	out := New(testConfig(t)).buildArtifacts(red, "")

	bounds := out.BlurredPreview.Bounds()
	r, gr, _, _ := out.BlurredPreview.At(bounds.Dx()/2, bounds.Dy()/2).RGBA()
	assert.NotEqual(r, gr)
}

func TestWarningChangesPreviewOnly(t *testing.T) {
	assert := assert_.New(t)

	g := New(testConfig(t))
	plain := g.buildArtifacts(testFrame(1280, 720), "")
	warned := g.buildArtifacts(testFrame(1280, 720), "graphic")

	assert.False(sameImage(plain.Preview, warned.Preview))
	assert.True(sameImage(plain.Thumbnail, warned.Thumbnail))
}

func TestGenerate(t *testing.T) {
	assert := assert_.New(t)

	cfg := testConfig(t)
	g := New(cfg)
	g.extractFrame = func(_ context.Context, _, framePath string, offset float64, _ int) error {
		assert.Equal(cfg.FrameOffset, offset)
		return imaging.Save(testFrame(1280, 720), framePath)
	}

	id := archiver.VideoID("250101-120000-aaaaa")
	assert.True(g.Generate(context.Background(), id, 120, "graphic, distress"))

	paths := cfg.Paths()
	for _, path := range []string{paths.Preview(id), paths.BlurredPreview(id), paths.Thumbnail(id), paths.BlurredThumbnail(id)} {
		_, err := os.Stat(path)
		assert.NoError(err, path)
	}
}

func TestGenerateShortVideoUsesZeroOffset(t *testing.T) {
	assert := assert_.New(t)

	g := New(testConfig(t))
	g.extractFrame = func(_ context.Context, _, framePath string, offset float64, _ int) error {
		assert.Zero(offset)
		return imaging.Save(testFrame(320, 240), framePath)
	}
	assert.True(g.Generate(context.Background(), "250101-120000-aaaaa", 5, ""))
}

func TestGenerateExtractionFailure(t *testing.T) {
	g := New(testConfig(t))
	g.extractFrame = func(context.Context, string, string, float64, int) error {
		return errors.New("no such file")
	}
	assert_.False(t, g.Generate(context.Background(), "250101-120000-aaaaa", 120, ""))
}

func TestWarningLines(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal([]string{"GRAPHIC", "DISTRESS"}, warningLines("graphic, distress"))
	assert.Equal([]string{"VIOLENCE"}, warningLines(" violence "))
	assert.Empty(warningLines(""))
}

func TestLineColor(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(warningColors[0].color, lineColor("GRAPHIC VIOLENCE"))
	assert.Equal(warningColors[1].color, lineColor("Emotional distress"))
	assert.Equal(neutralColor, lineColor("flashing lights"))
}

func TestFontSizeTiers(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal(48.0, fontSizeFor(1280))
	assert.Equal(32.0, fontSizeFor(640))
	assert.Equal(18.0, fontSizeFor(320))
}

func sameImage(a, b image.Image) bool {
	if a.Bounds() != b.Bounds() {
		return false
	}
	for x := a.Bounds().Min.X; x < a.Bounds().Max.X; x++ {
		for y := a.Bounds().Min.Y; y < a.Bounds().Max.Y; y++ {
			if a.At(x, y) != b.At(x, y) {
				return false
			}
		}
	}
	return true
}
