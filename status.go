package archiver

import "github.com/posterity/media-archiver/generic"

type Status string

const (
	StatusUndefined    Status = ""
	StatusPending      Status = "pending"
	StatusDownloading  Status = "downloading"
	StatusChecking     Status = "checking"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusInvalid      Status = "invalid"
	StatusNeedsCookies Status = "needs_cookies"
	// StatusProcessing is only ever entered from StatusCompleted, by the
	// post-processing pipeline.
	StatusProcessing Status = "processing"
)

var runningStatuses = generic.NewSet(
	StatusDownloading,
	StatusChecking,
	StatusProcessing,
)

var terminalStatuses = generic.NewSet(
	StatusCompleted,
	StatusFailed,
	StatusInvalid,
	StatusNeedsCookies,
)

// IsRunning returns true if the status implies a live task should be
// driving the record forward.
func (s Status) IsRunning() bool {
	return runningStatuses.Contains(s)
}

// IsTerminal returns true if the status ends an acquisition attempt.
func (s Status) IsTerminal() bool {
	return terminalStatuses.Contains(s)
}

func (s Status) String() string {
	return string(s)
}
