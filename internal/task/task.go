// Package task decouples operation requests from their execution. A
// Dispatcher accepts tasks; the local implementation runs them on a
// worker pool with at most one active task per video at a time.
package task

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	archiver "github.com/posterity/media-archiver"
	"github.com/posterity/media-archiver/generic"
)

type Kind string

const (
	KindDownload     Kind = "download"
	KindPostProcess  Kind = "postprocess"
	KindDupeSweep    Kind = "dupe_sweep"
	KindDupeSweepAll Kind = "dupe_sweep_all"
	KindThumbnails   Kind = "thumbnails"
)

var (
	ErrBusy        = errors.New("a task is already active for this video")
	ErrUnknownKind = errors.New("no handler registered for task kind")
	ErrStopped     = errors.New("dispatcher is stopped")
)

type Task struct {
	ID      string
	Kind    Kind
	VideoID archiver.VideoID
	// Request carries the caller's input for download tasks; other kinds
	// only need VideoID.
	Request archiver.DownloadRequest
}

type Handler func(ctx context.Context, t Task) error

type Dispatcher interface {
	Enqueue(ctx context.Context, t Task) (string, error)
}

type LocalDispatcher struct {
	log      *zap.SugaredLogger
	handlers map[Kind]Handler
	queue    chan Task
	wg       sync.WaitGroup

	mu      sync.Mutex
	active  generic.Set[archiver.VideoID]
	stopped bool
}

func NewLocal(queueSize int) *LocalDispatcher {
	return &LocalDispatcher{
		log:      zap.S().Named("task"),
		handlers: make(map[Kind]Handler),
		queue:    make(chan Task, queueSize),
		active:   generic.NewSet[archiver.VideoID](),
	}
}

// Handle registers the handler for a task kind. Register everything
// before Start.
func (d *LocalDispatcher) Handle(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// Start launches the worker pool. Workers exit when ctx is cancelled and
// the queue has drained, or immediately on cancellation between tasks.
func (d *LocalDispatcher) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.worker(ctx)
		}()
	}
}

// Stop prevents further enqueues and waits for in-flight tasks.
func (d *LocalDispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Enqueue accepts the task for execution, assigning an ID when the
// caller didn't. A video with a queued or running task refuses further
// tasks until it finishes.
func (d *LocalDispatcher) Enqueue(ctx context.Context, t Task) (string, error) {
	if _, ok := d.handlers[t.Kind]; !ok {
		return "", ErrUnknownKind
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return "", ErrStopped
	}
	if t.VideoID != "" {
		if d.active.Contains(t.VideoID) {
			d.mu.Unlock()
			return "", ErrBusy
		}
		d.active.Add(t.VideoID)
	}
	d.mu.Unlock()

	select {
	case d.queue <- t:
		d.log.Debugw("task queued", "task_id", t.ID, "kind", t.Kind, "video_id", t.VideoID)
		return t.ID, nil
	case <-ctx.Done():
		d.release(t.VideoID)
		return "", ctx.Err()
	}
}

func (d *LocalDispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-d.queue:
			if !ok {
				return
			}
			d.run(ctx, t)
		}
	}
}

func (d *LocalDispatcher) run(ctx context.Context, t Task) {
	defer d.release(t.VideoID)
	log := d.log.With("task_id", t.ID, "kind", t.Kind, "video_id", t.VideoID)
	log.Debug("task started")
	if err := d.handlers[t.Kind](ctx, t); err != nil {
		log.Errorw("task failed", "error", err)
		return
	}
	log.Debug("task finished")
}

func (d *LocalDispatcher) release(id archiver.VideoID) {
	if id == "" {
		return
	}
	d.mu.Lock()
	d.active.Remove(id)
	d.mu.Unlock()
}
