// Package pipeline drives a submitted URL through acquisition: resolve,
// select, download, validate, generate artifacts, record. Every status
// transition is persisted before the next stage runs, so a crash leaves
// an honest record behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	archiver "github.com/posterity/media-archiver"
	"github.com/posterity/media-archiver/internal/events"
	"github.com/posterity/media-archiver/internal/ffcmd"
	"github.com/posterity/media-archiver/internal/images"
	"github.com/posterity/media-archiver/internal/probe"
	"github.com/posterity/media-archiver/internal/progress"
	"github.com/posterity/media-archiver/internal/resolve"
	"github.com/posterity/media-archiver/internal/search"
	"github.com/posterity/media-archiver/internal/selector"
	"github.com/posterity/media-archiver/internal/store"
	"github.com/posterity/media-archiver/internal/store/urlindex"
)

var (
	ErrResolveFailed    = errors.New("no downloadable format could be resolved")
	ErrTooLong          = errors.New("content exceeds the maximum archivable duration")
	ErrDownloadFailed   = errors.New("transcoder exited with failure")
	ErrValidationFailed = errors.New("downloaded file failed validation")
)

type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (*resolve.ContentInfo, error)
}

type ArtifactGenerator interface {
	Generate(ctx context.Context, id archiver.VideoID, duration float64, warning string) bool
}

type Pipeline struct {
	cfg       archiver.Config
	store     *store.Store
	urls      *urlindex.Index
	resolver  Resolver
	artifacts ArtifactGenerator
	index     search.Index
	log       *zap.SugaredLogger

	// Transitions carries every persisted status change; Progress carries
	// periodic completion estimates while a subprocess runs.
	Transitions *events.Publisher[events.Transition]
	Progress    *events.Publisher[events.Progress]

	runProcess func(ctx context.Context, args []string, started func(pid int)) error
	probeFile  func(ctx context.Context, path string) (probe.TechInfo, error)
	now        func() time.Time
}

func New(cfg archiver.Config, s *store.Store, urls *urlindex.Index, resolver Resolver) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		store:       s,
		urls:        urls,
		resolver:    resolver,
		artifacts:   images.New(cfg),
		index:       search.NopIndex{},
		log:         zap.S().Named("pipeline"),
		Transitions: events.NewPublisher[events.Transition](),
		Progress:    events.NewPublisher[events.Progress](),
		probeFile:   probe.File,
		now:         time.Now,
	}
	p.runProcess = p.ffmpeg
	return p
}

// SetSearchIndex replaces the no-op index; call before any downloads run.
func (p *Pipeline) SetSearchIndex(index search.Index) {
	p.index = index
}

func (p *Pipeline) Close() {
	p.Transitions.Close()
	p.Progress.Close()
}

// Download archives the requested URL. The returned record reflects the
// terminal status even when an error is returned; a nil record means the
// request was rejected before anything was persisted.
func (p *Pipeline) Download(ctx context.Context, req archiver.DownloadRequest) (*store.VideoRecord, error) {
	if err := resolve.ValidateURL(req.URL); err != nil {
		return nil, fmt.Errorf("rejected url %q: %w", req.URL, err)
	}
	canonical := resolve.CanonicalURL(req.URL)

	if dup, found, err := p.duplicateOf(canonical, req); err != nil {
		return nil, err
	} else if found {
		return dup, nil
	}

	id := req.TargetID
	if id == "" {
		id = archiver.NewUniqueVideoID(p.now(), p.store.Exists)
	}
	rec := &store.VideoRecord{
		VideoID:        id,
		URL:            req.URL,
		CanonicalURL:   canonical,
		Title:          req.Title,
		Source:         req.Source,
		ContentWarning: req.ContentWarning,
		Status:         archiver.StatusPending,
		TaskID:         req.TaskID,
		UploadTime:     p.now(),
	}
	if err := p.store.Insert(rec); err != nil {
		return nil, err
	}
	p.Transitions.Publish(events.Transition{VideoID: id, To: archiver.StatusPending})

	return rec, p.acquire(ctx, rec)
}

// duplicateOf answers an already-archived canonical URL with a synthetic
// completed record carrying the caller's metadata, linked to the
// original. No subprocess runs.
func (p *Pipeline) duplicateOf(canonical string, req archiver.DownloadRequest) (*store.VideoRecord, bool, error) {
	originalID, found, err := p.urls.Lookup(canonical)
	if err != nil || !found {
		return nil, false, err
	}
	original, err := p.store.Get(originalID)
	if errors.Is(err, store.ErrNotFound) {
		// The record went away; drop the stale index entry and archive
		// the URL for real.
		_ = p.urls.Remove(canonical, originalID)
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}

	id := req.TargetID
	if id == "" {
		id = archiver.NewUniqueVideoID(p.now(), p.store.Exists)
	}
	dup := &store.VideoRecord{
		VideoID:        id,
		URL:            req.URL,
		CanonicalURL:   canonical,
		Title:          req.Title,
		OrigTitle:      original.OrigTitle,
		Source:         req.Source,
		ContentWarning: req.ContentWarning,
		Status:         archiver.StatusCompleted,
		TaskID:         req.TaskID,
		UploadTime:     p.now(),

		Duration:   original.Duration,
		Width:      original.Width,
		Height:     original.Height,
		BitRate:    original.BitRate,
		FrameRate:  original.FrameRate,
		FileSize:   original.FileSize,
		VideoCodec: original.VideoCodec,
		AudioCodec: original.AudioCodec,
		HasAudio:   original.HasAudio,
	}
	if dup.Title == "" {
		dup.Title = original.Title
	}
	if err := p.store.Insert(dup); err != nil {
		return nil, false, err
	}
	if err := p.store.Link(dup.VideoID, original.VideoID); err != nil {
		p.log.Warnw("failed to link duplicate", "video_id", dup.VideoID, "original", original.VideoID, "error", err)
	}
	p.log.Infow("url already archived, recorded duplicate",
		"video_id", dup.VideoID,
		"original", original.VideoID,
		"url", canonical,
	)
	p.Transitions.Publish(events.Transition{VideoID: dup.VideoID, To: archiver.StatusCompleted})
	search.Notify(p.index, document(dup))
	return dup, true, nil
}

func (p *Pipeline) acquire(ctx context.Context, rec *store.VideoRecord) error {
	log := p.log.With("video_id", rec.VideoID)

	info, err := p.resolver.Resolve(ctx, rec.URL)
	switch {
	case errors.Is(err, resolve.ErrAgeRestricted):
		_ = p.transition(rec, archiver.StatusNeedsCookies)
		return resolve.ErrAgeRestricted
	case err != nil:
		_ = p.transition(rec, archiver.StatusInvalid)
		return err
	}

	if info.Title != "" {
		rec.OrigTitle = info.Title
		if rec.Title == "" {
			rec.Title = info.Title
		}
	}
	rec.Duration = info.Duration

	if len(info.VideoFormats) == 0 {
		_ = p.transition(rec, archiver.StatusInvalid)
		return fmt.Errorf("%w: %s", ErrResolveFailed, rec.URL)
	}

	duration := time.Duration(info.Duration * float64(time.Second))
	if duration > p.cfg.MaxDuration {
		_ = p.transition(rec, archiver.StatusInvalid)
		return fmt.Errorf("%w: %s", ErrTooLong, duration)
	}

	formatID, muxed := selector.Select(info.VideoFormats, p.cfg.ResolutionCeiling(duration))
	var chosen resolve.VideoFormat
	for _, f := range info.VideoFormats {
		if f.ID == formatID {
			chosen = f
			break
		}
	}
	var audioURL string
	if !muxed && len(info.AudioFormats) > 0 {
		// Extractors list better encodes last, same as video variants.
		audioURL = info.AudioFormats[len(info.AudioFormats)-1].URL
	}
	var subURL string
	if len(info.Subtitles) > 0 {
		subURL = info.Subtitles[0].URL
	}
	log.Infow("selected format", "format", formatID, "muxed_audio", muxed, "separate_audio", audioURL != "")

	if err := p.transition(rec, archiver.StatusDownloading); err != nil {
		return err
	}

	paths := p.cfg.Paths()
	output := paths.Video(rec.VideoID)
	progressLog := paths.ProgressLog(rec.VideoID)
	if err := progress.Reset(progressLog); err != nil {
		_ = p.transition(rec, archiver.StatusFailed)
		return err
	}
	defer func() { _ = progress.Reset(progressLog) }()

	args := ffcmd.DownloadMux{
		VideoURL:    chosen.URL,
		AudioURL:    audioURL,
		SubURL:      subURL,
		Output:      output,
		ProgressLog: progressLog,
		Normalize:   true,
	}.Args()

	stopWatching := p.watchProgress(rec.VideoID, progressLog, info.Duration)
	err = p.runProcess(ctx, args, func(pid int) {
		rec.ProcessID = pid
		_ = p.store.Update(rec)
	})
	stopWatching()
	rec.ProcessID = 0
	if err != nil {
		log.Errorw("transcoder failed", "error", err)
		_ = os.Remove(output)
		_ = p.transition(rec, archiver.StatusFailed)
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	if err := p.transition(rec, archiver.StatusChecking); err != nil {
		return err
	}
	if err := p.check(ctx, rec, info.Duration); err != nil {
		log.Errorw("validation failed", "error", err)
		_ = os.Remove(output)
		_ = p.transition(rec, archiver.StatusFailed)
		return err
	}

	if ok := p.artifacts.Generate(ctx, rec.VideoID, rec.Duration, rec.ContentWarning); !ok {
		// The archive copy is intact; a missing preview is recoverable.
		log.Warnw("artifact generation failed")
	}

	if tech, err := p.probeFile(ctx, output); err != nil {
		log.Warnw("probe failed on finished file", "error", err)
	} else {
		applyTechInfo(rec, tech)
	}

	if err := p.transition(rec, archiver.StatusCompleted); err != nil {
		return err
	}
	if err := p.urls.Put(rec.CanonicalURL, rec.VideoID); err != nil {
		log.Warnw("failed to index canonical url", "error", err)
	}
	search.Notify(p.index, document(rec))
	log.Infow("archived", "title", rec.Title, "duration", rec.Duration, "file_size", rec.FileSize)
	return nil
}

// check verifies the finished file: probed duration must agree with the
// resolver's, and a decode-only pass must produce roughly the expected
// number of frames.
func (p *Pipeline) check(ctx context.Context, rec *store.VideoRecord, resolvedDuration float64) error {
	paths := p.cfg.Paths()
	input := paths.Video(rec.VideoID)
	progressLog := paths.ProgressLog(rec.VideoID)

	tech, err := p.probeFile(ctx, input)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if resolvedDuration > 0 && tech.Duration > 0 {
		if math.Abs(tech.Duration-resolvedDuration)/resolvedDuration > p.cfg.ValidationTolerance {
			return fmt.Errorf("%w: file duration %.1fs, expected %.1fs", ErrValidationFailed, tech.Duration, resolvedDuration)
		}
	}

	if err := progress.Reset(progressLog); err != nil {
		return err
	}
	args := ffcmd.Validate{Input: input, ProgressLog: progressLog}.Args()
	if err := p.runProcess(ctx, args, func(int) {}); err != nil {
		return fmt.Errorf("%w: decode error: %v", ErrValidationFailed, err)
	}
	state := progress.Last(progressLog)
	if tech.FrameRate > 0 && tech.Duration > 0 {
		if !progress.FrameCountOK(state.Frames, tech.FrameRate, tech.Duration, p.cfg.ValidationTolerance) {
			return fmt.Errorf("%w: decoded %d frames of ~%.0f expected", ErrValidationFailed, state.Frames, tech.FrameRate*tech.Duration)
		}
	}
	return nil
}

func (p *Pipeline) transition(rec *store.VideoRecord, to archiver.Status) error {
	from := rec.Status
	rec.Status = to
	if err := p.store.Update(rec); err != nil {
		return err
	}
	p.log.Infow("status change", "video_id", rec.VideoID, "from", from, "to", to)
	p.Transitions.Publish(events.Transition{VideoID: rec.VideoID, From: from, To: to})
	return nil
}

// watchProgress periodically reads the progress log and publishes a
// completion estimate until the returned stop function is called.
func (p *Pipeline) watchProgress(id archiver.VideoID, logPath string, duration float64) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				state := progress.Last(logPath)
				p.Progress.Publish(events.Progress{VideoID: id, Fraction: state.Fraction(duration)})
			}
		}
	}()
	return func() { close(done) }
}

func (p *Pipeline) ffmpeg(ctx context.Context, args []string, started func(pid int)) error {
	cmd := exec.CommandContext(ctx, ffcmd.Binary, args...)
	writer := &zapio.Writer{Log: p.log.Desugar(), Level: zapcore.DebugLevel}
	defer writer.Close()
	cmd.Stdout = writer
	cmd.Stderr = writer
	if err := cmd.Start(); err != nil {
		return err
	}
	started(cmd.Process.Pid)
	return cmd.Wait()
}

func applyTechInfo(rec *store.VideoRecord, tech probe.TechInfo) {
	if tech.Duration > 0 {
		rec.Duration = tech.Duration
	}
	rec.Width = tech.Width
	rec.Height = tech.Height
	rec.BitRate = tech.BitRate
	rec.FrameRate = tech.FrameRate
	rec.FileSize = tech.FileSize
	rec.VideoCodec = tech.VideoCodec
	rec.AudioCodec = tech.AudioCodec
	rec.HasAudio = tech.HasAudio
}

func document(rec *store.VideoRecord) search.Document {
	return search.Document{
		VideoID:        rec.VideoID,
		Title:          rec.Title,
		Source:         rec.Source,
		ContentWarning: rec.ContentWarning,
	}
}
