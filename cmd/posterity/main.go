package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	archiver "github.com/posterity/media-archiver"
	"github.com/posterity/media-archiver/async"
	"github.com/posterity/media-archiver/internal/dupes"
	"github.com/posterity/media-archiver/internal/images"
	"github.com/posterity/media-archiver/internal/pipeline"
	"github.com/posterity/media-archiver/internal/postprocess"
	"github.com/posterity/media-archiver/internal/resolve"
	"github.com/posterity/media-archiver/internal/store"
	"github.com/posterity/media-archiver/internal/store/urlindex"
	"github.com/posterity/media-archiver/internal/task"
)

func main() {
	_ = godotenv.Load()

	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := config.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "posterity",
		Usage: "archive videos before they disappear",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "media-dir",
				Value:   archiver.DefaultConfig.MediaDir,
				Usage:   "store media files in `DIR`",
				EnvVars: []string{"POSTERITY_MEDIA_DIR"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "record database `FILE` (default: <media-dir>/archive.db)",
				EnvVars: []string{"POSTERITY_DB"},
			},
		},
		Commands: []*cli.Command{
			downloadCommand(ctx),
			postprocessCommand(ctx),
			dedupeCommand(ctx),
			thumbsCommand(ctx),
			recommendCommand(),
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		stop()
		if err = <-result; err != nil {
			logger.Fatal(err.Error())
		}
	}
}

// env holds everything a subcommand needs, opened from the CLI flags.
type env struct {
	cfg       archiver.Config
	store     *store.Store
	urls      *urlindex.Index
	pipeline  *pipeline.Pipeline
	processor *postprocess.Processor
	detector  *dupes.Detector
	images    *images.Generator
	log       *zap.SugaredLogger
}

func newEnv(c *cli.Context) (*env, error) {
	cfg := archiver.DefaultConfig
	cfg.MediaDir = c.String("media-dir")
	cfg.ProcessedDir = filepath.Join(cfg.MediaDir, "processed")
	cfg.TmpDir = filepath.Join(cfg.MediaDir, "tmp")
	for _, dir := range []string{cfg.MediaDir, cfg.ProcessedDir, cfg.TmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	dbPath := c.String("db")
	if dbPath == "" {
		dbPath = filepath.Join(cfg.MediaDir, "archive.db")
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	urls, err := urlindex.Open(filepath.Join(cfg.MediaDir, "urls.db"))
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	log := zap.S().Named("posterity")
	if reset, err := s.ResetStale(); err != nil {
		log.Warnw("failed to reset stale records", "error", err)
	} else if reset > 0 {
		log.Infow("reset stale records from a previous run", "count", reset)
	}

	resolver := resolve.New(resolve.NewYouTubeExtractor())
	e := &env{
		cfg:       cfg,
		store:     s,
		urls:      urls,
		pipeline:  pipeline.New(cfg, s, urls, resolver),
		processor: postprocess.New(cfg, s),
		detector:  dupes.New(cfg, s),
		images:    images.New(cfg),
		log:       log,
	}
	return e, nil
}

func (e *env) Close() {
	e.pipeline.Close()
	_ = e.urls.Close()
	_ = e.store.Close()
}

// runTasks drains the given tasks through a local dispatcher, collecting
// handler errors so the command's exit code is honest.
func runTasks(ctx context.Context, workers int, register func(d *task.LocalDispatcher, fail func(error)), tasks []task.Task) error {
	var mu sync.Mutex
	var merr *multierror.Error
	fail := func(err error) {
		mu.Lock()
		merr = multierror.Append(merr, err)
		mu.Unlock()
	}

	dispatcher := task.NewLocal(len(tasks))
	register(dispatcher, fail)
	dispatcher.Start(ctx, workers)
	for _, t := range tasks {
		if _, err := dispatcher.Enqueue(ctx, t); err != nil {
			fail(fmt.Errorf("failed to queue %s for %s: %w", t.Kind, t.VideoID, err))
		}
	}
	dispatcher.Stop()
	return merr.ErrorOrNil()
}

func downloadCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "archive one or more URLs",
		ArgsUsage: "URL...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "override the resolved title"},
			&cli.StringFlag{Name: "source", Usage: "where the URL was found"},
			&cli.StringFlag{Name: "content-warning", Usage: "warning text rendered onto previews"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("no URLs given", 1)
			}
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			defer e.Close()

			stopLogging := logTransitions(e)
			defer stopLogging()

			tasks := make([]task.Task, 0, c.NArg())
			for _, rawURL := range c.Args().Slice() {
				tasks = append(tasks, task.Task{
					Kind: task.KindDownload,
					Request: archiver.DownloadRequest{
						URL:            rawURL,
						Title:          c.String("title"),
						Source:         c.String("source"),
						ContentWarning: c.String("content-warning"),
					},
				})
			}
			register := func(d *task.LocalDispatcher, fail func(error)) {
				d.Handle(task.KindDownload, func(ctx context.Context, t task.Task) error {
					req := t.Request
					req.TaskID = t.ID
					rec, err := downloadOne(ctx, e, req)
					if err != nil {
						fail(fmt.Errorf("%s: %w", req.URL, err))
						return err
					}
					fmt.Printf("%s  %s  %q\n", rec.VideoID, rec.Status, rec.Title)
					return nil
				})
			}
			return runTasks(ctx, 1, register, tasks)
		},
	}
}

// downloadOne drives a single request through the pipeline with a
// progress bar fed by the pipeline's progress events.
func downloadOne(ctx context.Context, e *env, req archiver.DownloadRequest) (*store.VideoRecord, error) {
	progressEvents, cancel := e.pipeline.Progress.Subscribe(16)
	defer cancel()

	bar := progressbar.NewOptions(1000,
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionClearOnFinish(),
	)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for event := range progressEvents {
			_ = bar.Set(int(event.Fraction * 1000))
		}
	}()

	rec, err := e.pipeline.Download(ctx, req)
	cancel()
	wg.Wait()
	_ = bar.Finish()
	return rec, err
}

// logTransitions mirrors every status change to the log, including a
// field-level diff of what changed on the record.
func logTransitions(e *env) (stop func()) {
	transitions, cancel := e.pipeline.Transitions.Subscribe(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		previous := make(map[archiver.VideoID]*store.VideoRecord)
		for event := range transitions {
			e.log.Infow("status change", "video_id", event.VideoID, "from", event.From, "to", event.To)
			current, err := e.store.Get(event.VideoID)
			if err != nil {
				continue
			}
			if old, ok := previous[event.VideoID]; ok {
				changes, err := diff.Diff(old, current)
				if err != nil {
					e.log.Errorw("failed to diff record states", "error", err)
				} else {
					for _, change := range changes {
						e.log.Debugf("%v: %#v -> %#v", change.Path, change.From, change.To)
					}
				}
			}
			previous[event.VideoID] = current
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func postprocessCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "postprocess",
		Usage:     "re-encode archived videos at content-adaptive quality",
		ArgsUsage: "ID...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("no video IDs given", 1)
			}
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			defer e.Close()

			tasks := make([]task.Task, 0, c.NArg())
			for _, id := range c.Args().Slice() {
				tasks = append(tasks, task.Task{Kind: task.KindPostProcess, VideoID: archiver.VideoID(id)})
			}
			register := func(d *task.LocalDispatcher, fail func(error)) {
				d.Handle(task.KindPostProcess, func(ctx context.Context, t task.Task) error {
					if err := e.processor.PostProcess(ctx, t.VideoID); err != nil {
						fail(fmt.Errorf("%s: %w", t.VideoID, err))
						return err
					}
					fmt.Printf("%s  re-encoded\n", t.VideoID)
					return nil
				})
			}
			return runTasks(ctx, 1, register, tasks)
		},
	}
}

func dedupeCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "dedupe",
		Usage:     "detect and link duplicate videos",
		ArgsUsage: "[ID...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "sweep every eligible pair instead of single videos"},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if c.Bool("all") {
				register := func(d *task.LocalDispatcher, fail func(error)) {
					d.Handle(task.KindDupeSweepAll, func(context.Context, task.Task) error {
						pairs, err := e.detector.SweepAll()
						if err != nil {
							fail(err)
						}
						fmt.Printf("%d duplicate pair(s) linked\n", pairs)
						return err
					})
				}
				return runTasks(ctx, 1, register, []task.Task{{Kind: task.KindDupeSweepAll}})
			}

			if c.NArg() == 0 {
				return cli.Exit("no video IDs given (or use --all)", 1)
			}
			tasks := make([]task.Task, 0, c.NArg())
			for _, id := range c.Args().Slice() {
				tasks = append(tasks, task.Task{Kind: task.KindDupeSweep, VideoID: archiver.VideoID(id)})
			}
			register := func(d *task.LocalDispatcher, fail func(error)) {
				d.Handle(task.KindDupeSweep, func(_ context.Context, t task.Task) error {
					rec, err := e.store.Get(t.VideoID)
					if err != nil {
						fail(fmt.Errorf("%s: %w", t.VideoID, err))
						return err
					}
					matches, err := e.detector.FindDuplicates(rec)
					if err != nil {
						fail(fmt.Errorf("%s: %w", t.VideoID, err))
					}
					for _, match := range matches {
						if err := e.store.Link(t.VideoID, match); err != nil {
							fail(err)
							continue
						}
						fmt.Printf("%s  duplicate of  %s\n", t.VideoID, match)
					}
					if len(matches) == 0 {
						fmt.Printf("%s  no duplicates found\n", t.VideoID)
					}
					return nil
				})
			}
			return runTasks(ctx, 1, register, tasks)
		},
	}
}

func thumbsCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "thumbs",
		Usage:     "regenerate preview and thumbnail images",
		ArgsUsage: "ID...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cw", Usage: "content warning `TEXT` to render instead of the recorded one"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("no video IDs given", 1)
			}
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			defer e.Close()

			tasks := make([]task.Task, 0, c.NArg())
			for _, id := range c.Args().Slice() {
				tasks = append(tasks, task.Task{Kind: task.KindThumbnails, VideoID: archiver.VideoID(id)})
			}
			register := func(d *task.LocalDispatcher, fail func(error)) {
				d.Handle(task.KindThumbnails, func(ctx context.Context, t task.Task) error {
					rec, err := e.store.Get(t.VideoID)
					if err != nil {
						fail(fmt.Errorf("%s: %w", t.VideoID, err))
						return err
					}
					warning := rec.ContentWarning
					if c.IsSet("cw") {
						warning = c.String("cw")
					}
					if !e.images.Generate(ctx, rec.VideoID, rec.Duration, warning) {
						err := fmt.Errorf("%s: image generation failed", t.VideoID)
						fail(err)
						return err
					}
					fmt.Printf("%s  images regenerated\n", t.VideoID)
					return nil
				})
			}
			return runTasks(ctx, 2, register, tasks)
		},
	}
}

func recommendCommand() *cli.Command {
	return &cli.Command{
		Name:  "recommend",
		Usage: "list videos that would benefit from post-processing",
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			defer e.Close()

			records, err := e.store.ByStatus(archiver.StatusCompleted)
			if err != nil {
				return err
			}
			count := 0
			for i := range records {
				rec := &records[i]
				if !e.processor.Recommend(rec) {
					continue
				}
				pressure := postprocess.Pressure(e.cfg, rec.Width, rec.Height, rec.FrameRate, rec.BitRate)
				fmt.Printf("%s  pressure=%.2f  %dx%d @ %.0f kbit/s  %q\n",
					rec.VideoID, pressure, rec.Width, rec.Height, float64(rec.BitRate)/1000, rec.Title)
				count++
			}
			fmt.Printf("%d candidate(s)\n", count)
			return nil
		},
	}
}
