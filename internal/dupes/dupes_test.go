package dupes

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	assert_ "github.com/stretchr/testify/assert"

	archiver "github.com/posterity/media-archiver"
	"github.com/posterity/media-archiver/internal/store"
)

func newTestDetector(t *testing.T) (*Detector, *store.Store, archiver.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := archiver.DefaultConfig
	cfg.MediaDir = dir
	cfg.ProcessedDir = dir
	cfg.TmpDir = dir
	s, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(cfg, s), s, cfg
}

func flatImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func splitImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			if x < 32 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func writeThumb(t *testing.T, cfg archiver.Config, id archiver.VideoID, img image.Image) {
	t.Helper()
	if err := imaging.Save(img, cfg.Paths().Thumbnail(id)); err != nil {
		t.Fatalf("failed to write thumbnail: %v", err)
	}
}

func record(id archiver.VideoID, duration float64, w, h int) *store.VideoRecord {
	return &store.VideoRecord{
		VideoID:  id,
		Status:   archiver.StatusCompleted,
		Duration: duration,
		Width:    w,
		Height:   h,
	}
}

func TestPairMatchesStages(t *testing.T) {
	assert := assert_.New(t)
	d, _, cfg := newTestDetector(t)

	base := record("a", 100, 1920, 1080)
	writeThumb(t, cfg, "a", splitImage())

	// duration too far apart
	match, err := d.pairMatches(base, record("b", 150, 1920, 1080))
	assert.NoError(err)
	assert.False(match)

	// duration close but aspect differs (16:9 vs 4:3)
	match, err = d.pairMatches(base, record("c", 102, 1440, 1080))
	assert.NoError(err)
	assert.False(match)

	// all stages agree on near-identical thumbnails
	writeThumb(t, cfg, "d", splitImage())
	match, err = d.pairMatches(base, record("d", 102, 1280, 720))
	assert.NoError(err)
	assert.True(match)

	// perceptual stage rejects very different thumbnails
	writeThumb(t, cfg, "e", flatImage(color.White))
	match, err = d.pairMatches(base, record("e", 102, 1280, 720))
	assert.NoError(err)
	assert.False(match)
}

func TestMissingThumbnailAcceptsAspectSurvivor(t *testing.T) {
	assert := assert_.New(t)
	d, _, cfg := newTestDetector(t)

	writeThumb(t, cfg, "a", splitImage())
	match, err := d.pairMatches(record("a", 100, 1920, 1080), record("b", 100, 1280, 720))
	assert.NoError(err)
	assert.True(match)
}

func TestUnknownDurationNeverMatches(t *testing.T) {
	assert := assert_.New(t)
	d, _, _ := newTestDetector(t)

	match, err := d.pairMatches(record("a", 0, 1920, 1080), record("b", 0, 1920, 1080))
	assert.NoError(err)
	assert.False(match)
}

func TestFindDuplicates(t *testing.T) {
	assert := assert_.New(t)
	d, s, _ := newTestDetector(t)

	a := record("a", 100, 1920, 1080)
	assert.NoError(s.Insert(a))
	assert.NoError(s.Insert(record("b", 101, 1280, 720)))
	assert.NoError(s.Insert(record("c", 200, 1920, 1080)))
	assert.NoError(s.Insert(&store.VideoRecord{VideoID: "d", Status: archiver.StatusFailed, Duration: 100, Width: 1920, Height: 1080}))

	ids, err := d.FindDuplicates(a)
	assert.NoError(err)
	assert.Equal([]archiver.VideoID{"b"}, ids)
}

func TestFindDuplicatesSkipsFalsePositives(t *testing.T) {
	assert := assert_.New(t)
	d, s, _ := newTestDetector(t)

	a := record("a", 100, 1920, 1080)
	assert.NoError(s.Insert(a))
	assert.NoError(s.Insert(record("b", 101, 1280, 720)))
	assert.NoError(s.MarkFalsePositive("a", "b"))

	ids, err := d.FindDuplicates(a)
	assert.NoError(err)
	assert.Empty(ids)
}

func TestSweepAllLinksSymmetricallyAndConverges(t *testing.T) {
	assert := assert_.New(t)
	d, s, _ := newTestDetector(t)

	a := record("a", 100, 1920, 1080)
	b := record("b", 101, 1280, 720)
	assert.NoError(s.Insert(a))
	assert.NoError(s.Insert(b))
	assert.NoError(s.Insert(record("c", 500, 1920, 1080)))

	linked, err := d.SweepAll()
	assert.NoError(err)
	assert.Equal(1, linked)

	isLinked, err := s.Linked("b", "a")
	assert.NoError(err)
	assert.True(isLinked)

	// sweeping again keeps exactly the same links
	linked, err = d.SweepAll()
	assert.NoError(err)
	assert.Equal(1, linked)

	// once durations diverge the sweep unlinks the pair
	b.Duration = 300
	assert.NoError(s.Update(b))
	linked, err = d.SweepAll()
	assert.NoError(err)
	assert.Zero(linked)
	isLinked, err = s.Linked("a", "b")
	assert.NoError(err)
	assert.False(isLinked)
}

func TestSweepAllSuppressesFalsePositives(t *testing.T) {
	assert := assert_.New(t)
	d, s, _ := newTestDetector(t)

	assert.NoError(s.Insert(record("a", 100, 1920, 1080)))
	assert.NoError(s.Insert(record("b", 101, 1280, 720)))
	assert.NoError(s.MarkFalsePositive("a", "b"))

	linked, err := d.SweepAll()
	assert.NoError(err)
	assert.Zero(linked)

	isLinked, err := s.Linked("a", "b")
	assert.NoError(err)
	assert.False(isLinked)
}
