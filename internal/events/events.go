// Package events fans out pipeline events to any number of subscribers.
// Slow subscribers drop events instead of blocking the pipeline.
package events

import (
	"sync"

	archiver "github.com/posterity/media-archiver"
)

// Transition is emitted every time a video's status changes.
type Transition struct {
	VideoID archiver.VideoID
	From    archiver.Status
	To      archiver.Status
}

// Progress is emitted periodically while a subprocess is running.
type Progress struct {
	VideoID  archiver.VideoID
	Fraction float64
}

type Publisher[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	nextID int
	closed bool
}

func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a receive channel and a cancel function. The channel
// is closed when cancelled or when the publisher closes.
func (p *Publisher[T]) Subscribe(bufSize int) (<-chan T, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	ch := make(chan T, bufSize)
	p.subs[id] = ch
	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers msg to every subscriber with buffer space, returning
// false once the publisher is closed.
func (p *Publisher[T]) Publish(msg T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	for _, ch := range p.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return true
}

// Close idempotently closes the publisher and all subscriber channels.
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
