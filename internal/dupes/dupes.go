// Package dupes finds videos that archive the same content. Candidate
// pairs are narrowed by duration, then aspect ratio, then a perceptual
// hash of the thumbnails.
package dupes

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	archiver "github.com/posterity/media-archiver"
	"github.com/posterity/media-archiver/internal/store"
)

const hashSize = 64

type Detector struct {
	cfg   archiver.Config
	store *store.Store
	log   *zap.SugaredLogger
}

func New(cfg archiver.Config, s *store.Store) *Detector {
	return &Detector{
		cfg:   cfg,
		store: s,
		log:   zap.S().Named("dupes"),
	}
}

// FindDuplicates compares video against every eligible record and
// returns the IDs judged to be the same content. Pairs already marked
// as false positives are skipped. Per-candidate failures are
// aggregated; the scan never stops early.
func (d *Detector) FindDuplicates(video *store.VideoRecord) ([]archiver.VideoID, error) {
	candidates, err := d.store.ByStatus(archiver.StatusCompleted, archiver.StatusProcessing)
	if err != nil {
		return nil, err
	}
	var merr *multierror.Error
	var matched []archiver.VideoID
	for i := range candidates {
		other := &candidates[i]
		if other.VideoID == video.VideoID {
			continue
		}
		if fp, err := d.store.IsFalsePositive(video.VideoID, other.VideoID); err != nil {
			merr = multierror.Append(merr, err)
			continue
		} else if fp {
			continue
		}
		match, err := d.pairMatches(video, other)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("comparing %s with %s: %w", video.VideoID, other.VideoID, err))
			continue
		}
		if match {
			matched = append(matched, other.VideoID)
		}
	}
	return matched, merr.ErrorOrNil()
}

// SweepAll re-evaluates every eligible pair, linking current matches and
// unlinking pairs that no longer match. Returns the number of linked
// pairs after the sweep.
func (d *Detector) SweepAll() (int, error) {
	records, err := d.store.ByStatus(archiver.StatusCompleted, archiver.StatusProcessing)
	if err != nil {
		return 0, err
	}
	var merr *multierror.Error
	linked := 0
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			a, b := &records[i], &records[j]
			match, err := d.pairMatches(a, b)
			if err != nil {
				merr = multierror.Append(merr, fmt.Errorf("comparing %s with %s: %w", a.VideoID, b.VideoID, err))
				continue
			}
			if match {
				if err := d.store.Link(a.VideoID, b.VideoID); err != nil {
					merr = multierror.Append(merr, err)
					continue
				}
				if isLinked, err := d.store.Linked(a.VideoID, b.VideoID); err == nil && isLinked {
					linked++
				}
			} else {
				if err := d.store.Unlink(a.VideoID, b.VideoID); err != nil {
					merr = multierror.Append(merr, err)
				}
			}
		}
	}
	d.log.Infow("duplicate sweep complete", "records", len(records), "linked_pairs", linked)
	return linked, merr.ErrorOrNil()
}

func (d *Detector) pairMatches(a, b *store.VideoRecord) (bool, error) {
	if !durationsMatch(a.Duration, b.Duration, d.cfg.DurationThreshold) {
		return false, nil
	}
	if !aspectsMatch(a.AspectRatio(), b.AspectRatio(), d.cfg.AspectThreshold) {
		return false, nil
	}

	paths := d.cfg.Paths()
	hashA, okA, err := thumbnailHash(paths.Thumbnail(a.VideoID))
	if err != nil {
		return false, err
	}
	hashB, okB, err := thumbnailHash(paths.Thumbnail(b.VideoID))
	if err != nil {
		return false, err
	}
	// Without both thumbnails the perceptual stage cannot run, and the
	// earlier stages already agreed.
	if !okA || !okB {
		return true, nil
	}
	distance, err := hashA.Distance(hashB)
	if err != nil {
		return false, err
	}
	return distance <= d.cfg.PHashMaxDistance, nil
}

// durationsMatch requires both durations known and within tolerance of
// the longer one.
func durationsMatch(a, b, tolerance float64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	longer := math.Max(a, b)
	return math.Abs(a-b)/longer <= tolerance
}

func aspectsMatch(a, b, tolerance float64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	return math.Abs(a-b) <= tolerance
}

// thumbnailHash computes the average hash of the thumbnail at path. A
// missing file reports ok=false without error.
func thumbnailHash(path string) (*goimagehash.ImageHash, bool, error) {
	img, err := imaging.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	hash, err := goimagehash.AverageHash(imaging.Resize(img, hashSize, hashSize, imaging.Lanczos))
	if err != nil {
		return nil, false, err
	}
	return hash, true, nil
}
