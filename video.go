package archiver

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// VideoID is the globally unique archive identifier for one video: a
// time-based prefix plus a short random suffix.
type VideoID string

func (id VideoID) String() string {
	return string(id)
}

// NewVideoID generates a candidate VideoID. Callers are expected to
// collision-check against the record store (see NewUniqueVideoID) before
// using it; the random suffix is short enough that collisions, while
// unlikely, are possible.
func NewVideoID(now time.Time) VideoID {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
	return VideoID(now.Format("060102-150405") + "-" + suffix)
}

// NewUniqueVideoID generates VideoIDs until exists reports one as unused.
func NewUniqueVideoID(now time.Time, exists func(VideoID) bool) VideoID {
	for {
		id := NewVideoID(now)
		if exists == nil || !exists(id) {
			return id
		}
	}
}

// DownloadRequest is the caller-supplied input to the acquisition
// pipeline. Immutable once accepted.
type DownloadRequest struct {
	URL            string
	Title          string
	Source         string
	ContentWarning string
	TargetID       VideoID
	// TaskID identifies the dispatched task driving this request, when
	// the request came through a dispatcher rather than a direct call.
	TaskID string
}
