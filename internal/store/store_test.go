package store

import (
	"path/filepath"
	"testing"

	assert_ "github.com/stretchr/testify/assert"

	archiver "github.com/posterity/media-archiver"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertGetUpdate(t *testing.T) {
	s := newTestStore(t)

	record := &VideoRecord{
		VideoID:      "250101-120000-aaaaa",
		URL:          "https://example.com/video",
		CanonicalURL: "https://example.com/video",
		Title:        "a title",
		Status:       archiver.StatusPending,
	}
	assert_.NoError(t, s.Insert(record))
	assert_.True(t, s.Exists(record.VideoID))

	got, err := s.Get(record.VideoID)
	assert_.NoError(t, err)
	assert_.Equal(t, "a title", got.Title)
	assert_.Equal(t, archiver.StatusPending, got.Status)

	got.Width, got.Height = 1920, 1080
	assert_.NoError(t, s.Update(got))
	got, err = s.Get(record.VideoID)
	assert_.NoError(t, err)
	assert_.InDelta(t, 16.0/9.0, got.AspectRatio(), 1e-9)

	_, err = s.Get("250101-120000-zzzzz")
	assert_.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatus(t *testing.T) {
	s := newTestStore(t)
	assert_.NoError(t, s.Insert(&VideoRecord{VideoID: "v1", Status: archiver.StatusPending}))

	assert_.NoError(t, s.SetStatus("v1", archiver.StatusDownloading))
	got, err := s.Get("v1")
	assert_.NoError(t, err)
	assert_.Equal(t, archiver.StatusDownloading, got.Status)

	assert_.ErrorIs(t, s.SetStatus("missing", archiver.StatusFailed), ErrNotFound)
}

func TestByStatus(t *testing.T) {
	s := newTestStore(t)
	assert_.NoError(t, s.Insert(&VideoRecord{VideoID: "v1", Status: archiver.StatusCompleted}))
	assert_.NoError(t, s.Insert(&VideoRecord{VideoID: "v2", Status: archiver.StatusFailed}))
	assert_.NoError(t, s.Insert(&VideoRecord{VideoID: "v3", Status: archiver.StatusProcessing}))

	records, err := s.ByStatus(archiver.StatusCompleted, archiver.StatusProcessing)
	assert_.NoError(t, err)
	assert_.Len(t, records, 2)
}

func TestLinkSymmetricAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	assert_.NoError(t, s.Link("b", "a"))
	assert_.NoError(t, s.Link("a", "b"))

	linked, err := s.Linked("a", "b")
	assert_.NoError(t, err)
	assert_.True(t, linked)
	linked, err = s.Linked("b", "a")
	assert_.NoError(t, err)
	assert_.True(t, linked)

	ids, err := s.LinksFor("a")
	assert_.NoError(t, err)
	assert_.Equal(t, []archiver.VideoID{"b"}, ids)

	assert_.NoError(t, s.Unlink("a", "b"))
	linked, err = s.Linked("a", "b")
	assert_.NoError(t, err)
	assert_.False(t, linked)
}

func TestLinkSelfIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert_.NoError(t, s.Link("a", "a"))
	ids, err := s.LinksFor("a")
	assert_.NoError(t, err)
	assert_.Empty(t, ids)
}

func TestFalsePositiveExclusion(t *testing.T) {
	s := newTestStore(t)
	assert_.NoError(t, s.Link("a", "b"))
	assert_.NoError(t, s.MarkFalsePositive("b", "a"))

	// marking removes the link and blocks future linking
	linked, err := s.Linked("a", "b")
	assert_.NoError(t, err)
	assert_.False(t, linked)
	assert_.NoError(t, s.Link("a", "b"))
	linked, err = s.Linked("a", "b")
	assert_.NoError(t, err)
	assert_.False(t, linked)

	fp, err := s.IsFalsePositive("a", "b")
	assert_.NoError(t, err)
	assert_.True(t, fp)

	assert_.NoError(t, s.ClearFalsePositive("a", "b"))
	assert_.NoError(t, s.Link("a", "b"))
	linked, err = s.Linked("a", "b")
	assert_.NoError(t, err)
	assert_.True(t, linked)
}

func TestDeleteRemovesPairRows(t *testing.T) {
	s := newTestStore(t)
	assert_.NoError(t, s.Insert(&VideoRecord{VideoID: "a", Status: archiver.StatusCompleted}))
	assert_.NoError(t, s.Link("a", "b"))
	assert_.NoError(t, s.MarkFalsePositive("a", "c"))

	assert_.NoError(t, s.Delete("a"))
	assert_.False(t, s.Exists("a"))
	ids, err := s.LinksFor("b")
	assert_.NoError(t, err)
	assert_.Empty(t, ids)
	fp, err := s.IsFalsePositive("a", "c")
	assert_.NoError(t, err)
	assert_.False(t, fp)
}

func TestResetStale(t *testing.T) {
	s := newTestStore(t)
	assert_.NoError(t, s.Insert(&VideoRecord{VideoID: "v1", Status: archiver.StatusDownloading, ProcessID: 123}))
	assert_.NoError(t, s.Insert(&VideoRecord{VideoID: "v2", Status: archiver.StatusCompleted}))

	count, err := s.ResetStale()
	assert_.NoError(t, err)
	assert_.Equal(t, int64(1), count)

	got, err := s.Get("v1")
	assert_.NoError(t, err)
	assert_.Equal(t, archiver.StatusFailed, got.Status)
	assert_.Zero(t, got.ProcessID)

	got, err = s.Get("v2")
	assert_.NoError(t, err)
	assert_.Equal(t, archiver.StatusCompleted, got.Status)
}
