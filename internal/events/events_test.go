package events

import (
	"testing"

	assert_ "github.com/stretchr/testify/assert"

	archiver "github.com/posterity/media-archiver"
)

func TestPublishFanOut(t *testing.T) {
	assert := assert_.New(t)

	p := NewPublisher[Transition]()
	a, cancelA := p.Subscribe(10)
	b, cancelB := p.Subscribe(10)
	defer cancelA()
	defer cancelB()

	msg := Transition{VideoID: "v1", From: archiver.StatusPending, To: archiver.StatusDownloading}
	assert.True(p.Publish(msg))
	assert.Equal(msg, <-a)
	assert.Equal(msg, <-b)
}

func TestSlowSubscriberDrops(t *testing.T) {
	assert := assert_.New(t)

	p := NewPublisher[Progress]()
	ch, cancel := p.Subscribe(1)
	defer cancel()

	assert.True(p.Publish(Progress{VideoID: "v1", Fraction: 0.1}))
	assert.True(p.Publish(Progress{VideoID: "v1", Fraction: 0.2}))

	got := <-ch
	assert.Equal(0.1, got.Fraction)
	select {
	case extra := <-ch:
		t.Fatalf("expected second event to be dropped, got %+v", extra)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	assert := assert_.New(t)

	p := NewPublisher[Transition]()
	ch, cancel := p.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(ok)
	assert.True(p.Publish(Transition{VideoID: "v1"}))
}

func TestCloseStopsPublishing(t *testing.T) {
	assert := assert_.New(t)

	p := NewPublisher[Transition]()
	ch, _ := p.Subscribe(1)
	p.Close()
	p.Close()

	_, ok := <-ch
	assert.False(ok)
	assert.False(p.Publish(Transition{VideoID: "v1"}))

	late, cancel := p.Subscribe(1)
	defer cancel()
	_, ok = <-late
	assert.False(ok)
}
