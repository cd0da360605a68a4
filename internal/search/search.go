// Package search abstracts the optional full-text index that mirrors the
// record store. Index failures must never fail an archival operation, so
// callers log and continue.
package search

import (
	"go.uber.org/zap"

	archiver "github.com/posterity/media-archiver"
)

// Document is the indexable projection of a video record.
type Document struct {
	VideoID        archiver.VideoID
	Title          string
	Source         string
	ContentWarning string
}

type Index interface {
	Index(doc Document) error
	Remove(id archiver.VideoID) error
}

// NopIndex satisfies Index without a search backend configured.
type NopIndex struct{}

func (NopIndex) Index(Document) error          { return nil }
func (NopIndex) Remove(archiver.VideoID) error { return nil }

// Notify indexes doc, logging instead of returning on failure.
func Notify(index Index, doc Document) {
	if err := index.Index(doc); err != nil {
		zap.S().Named("search").Warnw("failed to index video", "video_id", doc.VideoID, "error", err)
	}
}

// Forget removes id from the index, logging instead of returning on failure.
func Forget(index Index, id archiver.VideoID) {
	if err := index.Remove(id); err != nil {
		zap.S().Named("search").Warnw("failed to remove video from index", "video_id", id, "error", err)
	}
}
