package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
)

func TestEnqueueRunsHandler(t *testing.T) {
	assert := assert_.New(t)

	d := NewLocal(4)
	done := make(chan Task, 1)
	d.Handle(KindDownload, func(_ context.Context, task Task) error {
		done <- task
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx, 2)

	id, err := d.Enqueue(ctx, Task{Kind: KindDownload, VideoID: "v1"})
	assert.NoError(err)
	assert.NotEmpty(id)

	select {
	case got := <-done:
		assert.Equal(id, got.ID)
		assert.EqualValues("v1", got.VideoID)
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestEnqueueUnknownKind(t *testing.T) {
	d := NewLocal(1)
	_, err := d.Enqueue(context.Background(), Task{Kind: KindThumbnails})
	assert_.ErrorIs(t, err, ErrUnknownKind)
}

func TestAtMostOneActivePerVideo(t *testing.T) {
	assert := assert_.New(t)

	d := NewLocal(4)
	block := make(chan struct{})
	started := make(chan struct{}, 4)
	d.Handle(KindPostProcess, func(context.Context, Task) error {
		started <- struct{}{}
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx, 2)

	_, err := d.Enqueue(ctx, Task{Kind: KindPostProcess, VideoID: "v1"})
	assert.NoError(err)
	<-started

	// same video refused while the first task runs
	_, err = d.Enqueue(ctx, Task{Kind: KindPostProcess, VideoID: "v1"})
	assert.ErrorIs(err, ErrBusy)

	// a different video is unaffected
	_, err = d.Enqueue(ctx, Task{Kind: KindPostProcess, VideoID: "v2"})
	assert.NoError(err)
	<-started

	close(block)
	d.Stop()

	// once finished, the video accepts tasks again, but the dispatcher
	// is stopped
	_, err = d.Enqueue(ctx, Task{Kind: KindPostProcess, VideoID: "v1"})
	assert.ErrorIs(err, ErrStopped)
}

func TestGuardReleasedAfterFailure(t *testing.T) {
	assert := assert_.New(t)

	d := NewLocal(4)
	var runs atomic.Int32
	ran := make(chan struct{}, 2)
	d.Handle(KindDupeSweep, func(context.Context, Task) error {
		runs.Add(1)
		ran <- struct{}{}
		return context.DeadlineExceeded
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx, 1)

	_, err := d.Enqueue(ctx, Task{Kind: KindDupeSweep, VideoID: "v1"})
	assert.NoError(err)
	<-ran

	// failure released the guard; give the worker a moment to finish
	// the release
	deadline := time.After(time.Second)
	for {
		if _, err = d.Enqueue(ctx, Task{Kind: KindDupeSweep, VideoID: "v1"}); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("guard never released: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}
	<-ran
	assert.Equal(int32(2), runs.Load())
}

func TestBatchTasksHaveNoGuard(t *testing.T) {
	assert := assert_.New(t)

	d := NewLocal(4)
	block := make(chan struct{})
	started := make(chan struct{}, 4)
	d.Handle(KindDupeSweepAll, func(context.Context, Task) error {
		started <- struct{}{}
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx, 2)

	_, err := d.Enqueue(ctx, Task{Kind: KindDupeSweepAll})
	assert.NoError(err)
	_, err = d.Enqueue(ctx, Task{Kind: KindDupeSweepAll})
	assert.NoError(err)
	<-started
	<-started

	close(block)
	d.Stop()
}
