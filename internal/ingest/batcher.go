package ingest

import (
	"sync"
	"sync/atomic"
	"time"
)

// Batcher groups items and hands them to flushFn once maxSize items are
// pending or interval has passed since the first pending item. Flushes run
// on their own goroutine.
type Batcher[T any] struct {
	mu       sync.Mutex
	items    []T
	maxSize  int
	interval time.Duration
	flushFn  func([]T)
	timer    *time.Timer
	stopped  bool
	wg       sync.WaitGroup

	flushed atomic.Int64
}

// NewBatcher creates a batcher.
func NewBatcher[T any](maxSize int, interval time.Duration, flushFn func([]T)) *Batcher[T] {
	return &Batcher[T]{
		maxSize:  maxSize,
		interval: interval,
		flushFn:  flushFn,
	}
}

// Add queues an item. Items added after Stop are dropped.
func (b *Batcher[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	b.items = append(b.items, item)
	switch {
	case len(b.items) >= b.maxSize:
		b.flushLocked()
	case len(b.items) == 1:
		b.timer = time.AfterFunc(b.interval, b.Flush)
	}
}

// Flush hands pending items to flushFn now.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) > 0 {
		b.flushLocked()
	}
}

// Pending returns the number of queued items.
func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Flushed returns the number of items handed to flushFn so far.
func (b *Batcher[T]) Flushed() int64 { return b.flushed.Load() }

// Stop flushes what is pending, waits for running flushes and drops later adds.
func (b *Batcher[T]) Stop() {
	b.mu.Lock()
	b.stopped = true
	if len(b.items) > 0 {
		b.flushLocked()
	} else if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Batcher[T]) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.items
	b.items = nil
	b.flushed.Add(int64(len(items)))
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.flushFn(items)
	}()
}
