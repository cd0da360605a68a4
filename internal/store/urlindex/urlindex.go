// Package urlindex keeps a canonical-URL -> video ID index so a
// resubmitted URL can be answered without resolving it again.
package urlindex

import (
	"encoding/json"

	"go.etcd.io/bbolt"

	archiver "github.com/posterity/media-archiver"
)

var Buckets = struct {
	Metadata []byte
	URLs     []byte
}{
	Metadata: []byte("__metadata__"),
	URLs:     []byte("urls"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

type Index struct {
	db *bbolt.DB
}

func Open(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		metadata, err := tx.CreateBucketIfNotExists(Buckets.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.URLs); err != nil {
			return err
		}
		versionBytes, err := json.Marshal(currentVersion)
		if err != nil {
			return err
		}
		return metadata.Put(MetadataKeys.Version, versionBytes)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Index{db}, nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Lookup returns the video ID previously stored for canonicalURL, or
// ("", false) if the URL has never been archived.
func (i *Index) Lookup(canonicalURL string) (id archiver.VideoID, found bool, err error) {
	err = i.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(Buckets.URLs).Get([]byte(canonicalURL)); v != nil {
			id = archiver.VideoID(v)
			found = true
		}
		return nil
	})
	return id, found, err
}

func (i *Index) Put(canonicalURL string, id archiver.VideoID) error {
	return i.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.URLs).Put([]byte(canonicalURL), []byte(id))
	})
}

// Remove deletes the entry for canonicalURL, but only while it still
// points at id, so a re-archived URL is not clobbered by a stale delete.
func (i *Index) Remove(canonicalURL string, id archiver.VideoID) error {
	return i.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(Buckets.URLs)
		if v := bucket.Get([]byte(canonicalURL)); v == nil || archiver.VideoID(v) != id {
			return nil
		}
		return bucket.Delete([]byte(canonicalURL))
	})
}
