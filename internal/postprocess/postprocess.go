// Package postprocess re-encodes archived videos whose bitrate is out of
// proportion to their content. The encode quality adapts to "pressure":
// how far the source bitrate sits above the comfortable range for its
// pixel throughput.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	archiver "github.com/posterity/media-archiver"
	"github.com/posterity/media-archiver/internal/ffcmd"
	"github.com/posterity/media-archiver/internal/probe"
	"github.com/posterity/media-archiver/internal/progress"
	"github.com/posterity/media-archiver/internal/store"
)

var (
	ErrNotCompleted    = errors.New("video is not in a completed state")
	ErrAlreadyRunning  = errors.New("video is already being processed")
	ErrNothingToEncode = errors.New("video has no probeable stream")
)

// Plan is everything the re-encode needs, derived from the source file's
// technical info.
type Plan struct {
	Pressure     float64
	CRF          int
	FrameRate    float64
	VideoBitrate int
	AudioBitrate int
}

type Processor struct {
	cfg   archiver.Config
	store *store.Store
	log   *zap.SugaredLogger

	probeFile func(ctx context.Context, path string) (probe.TechInfo, error)
	runEncode func(ctx context.Context, args []string, started func(pid int)) error
}

func New(cfg archiver.Config, s *store.Store) *Processor {
	p := &Processor{
		cfg:   cfg,
		store: s,
		log:   zap.S().Named("postprocess"),
	}
	p.probeFile = probe.File
	p.runEncode = p.ffmpeg
	return p
}

// Pressure is how far bitrate sits between the comfortable minimum and
// maximum for the given pixel throughput, clamped to [0, 1]. Throughput
// is normalized to 30fps so high-fps content tolerates more bitrate.
func Pressure(cfg archiver.Config, width, height int, frameRate float64, bitrate int) float64 {
	if width <= 0 || height <= 0 || frameRate <= 0 || bitrate <= 0 {
		return 0
	}
	pixels := float64(width) * float64(height) * (frameRate / 30)
	minBR := cfg.MinBitratePerPixel * pixels
	maxBR := cfg.MaxBitratePerPixel * pixels
	if maxBR <= minBR {
		return 0
	}
	pressure := (float64(bitrate) - minBR) / (maxBR - minBR)
	return math.Max(0, math.Min(1, pressure))
}

// PlanFor maps a source file's technical info onto encode parameters:
// CRF interpolated between the light and heavy settings by pressure,
// frame rate halved above the high-fps threshold and capped.
func PlanFor(cfg archiver.Config, info probe.TechInfo) Plan {
	pressure := Pressure(cfg, info.Width, info.Height, info.FrameRate, info.BitRate)
	crf := float64(cfg.CRFLight) + pressure*float64(cfg.CRFHeavy-cfg.CRFLight)

	frameRate := info.FrameRate
	if frameRate >= cfg.HighFPSThreshold {
		frameRate = frameRate / 2
	}
	if frameRate > cfg.FPSCap {
		frameRate = cfg.FPSCap
	}

	pixels := float64(info.Width) * float64(info.Height) * (frameRate / 30)
	return Plan{
		Pressure:     pressure,
		CRF:          int(math.Round(crf)),
		FrameRate:    frameRate,
		VideoBitrate: int(cfg.MaxBitratePerPixel * pixels),
		AudioBitrate: cfg.AudioBitrateCap,
	}
}

// Recommend reports whether a record would benefit from post-processing.
func (p *Processor) Recommend(rec *store.VideoRecord) bool {
	if rec.PostProcessed || rec.Status != archiver.StatusCompleted {
		return false
	}
	if rec.BitRate <= p.cfg.BitrateFloor {
		return false
	}
	return Pressure(p.cfg, rec.Width, rec.Height, rec.FrameRate, rec.BitRate) >= p.cfg.RecommendPressure
}

// PostProcess re-encodes the video into the processed directory. The
// original file is never touched; on failure the partial output is
// removed and the record stays Completed.
func (p *Processor) PostProcess(ctx context.Context, id archiver.VideoID) error {
	log := p.log.With("video_id", id)
	rec, err := p.store.Get(id)
	if err != nil {
		return err
	}
	switch rec.Status {
	case archiver.StatusCompleted:
	case archiver.StatusProcessing:
		return ErrAlreadyRunning
	default:
		return fmt.Errorf("%w: %s", ErrNotCompleted, rec.Status)
	}

	paths := p.cfg.Paths()
	input := paths.Video(id)
	info, err := p.probeFile(ctx, input)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNothingToEncode, err)
	}

	plan := PlanFor(p.cfg, info)
	log.Infow("starting re-encode",
		"pressure", plan.Pressure,
		"crf", plan.CRF,
		"frame_rate", plan.FrameRate,
	)

	rec.Status = archiver.StatusProcessing
	if err := p.store.Update(rec); err != nil {
		return err
	}
	// Whatever happens below, the record leaves the processing state.
	defer func() {
		rec.Status = archiver.StatusCompleted
		rec.ProcessID = 0
		if err := p.store.Update(rec); err != nil {
			log.Errorw("failed to persist record after re-encode", "error", err)
		}
	}()

	output := paths.ProcessedVideo(id)
	progressLog := paths.ProgressLog(id)
	if err := progress.Reset(progressLog); err != nil {
		return err
	}
	defer func() { _ = progress.Reset(progressLog) }()

	args := ffcmd.Reencode{
		Input:        input,
		Output:       output,
		FrameRate:    plan.FrameRate,
		VideoBitrate: plan.VideoBitrate,
		AudioBitrate: plan.AudioBitrate,
		CRF:          plan.CRF,
		ProgressLog:  progressLog,
	}.Args()
	// The encoder's pid is persisted so the job can be cancelled by
	// signalling the subprocess, not the archiver.
	err = p.runEncode(ctx, args, func(pid int) {
		rec.ProcessID = pid
		_ = p.store.Update(rec)
	})
	if err != nil {
		_ = os.Remove(output)
		return fmt.Errorf("re-encode failed: %w", err)
	}

	processed, err := p.probeFile(ctx, output)
	if err != nil {
		_ = os.Remove(output)
		return fmt.Errorf("re-encoded file failed probing: %w", err)
	}
	original, err := p.probeFile(ctx, input)
	if err == nil {
		rec.Duration = original.Duration
		rec.BitRate = original.BitRate
		rec.FileSize = original.FileSize
	}

	rec.ProcessedDuration = processed.Duration
	rec.ProcessedWidth = processed.Width
	rec.ProcessedHeight = processed.Height
	rec.ProcessedBitRate = processed.BitRate
	rec.ProcessedFrameRate = processed.FrameRate
	rec.ProcessedFileSize = processed.FileSize
	rec.PostProcessed = true
	log.Infow("re-encode complete", "file_size", processed.FileSize, "bit_rate", processed.BitRate)
	return nil
}

func (p *Processor) ffmpeg(ctx context.Context, args []string, started func(pid int)) error {
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
