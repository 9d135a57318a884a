package service

import (
	"context"
	"sync"
	"time"

	"event-pipeline/internal/util"
)

const (
	defaultRetryCount   = 2
	defaultRetryBackoff = 200 * time.Millisecond
)

// FlushFunc writes one batch to a sink.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// Batcher buffers items and hands them to its FlushFunc when the buffer
// reaches size or when Run's ticker fires. A failed batch is dropped after
// its retries; the caller's onError hook sees it.
type Batcher[T any] struct {
	name    string
	size    int
	flush   FlushFunc[T]
	onError func(name string, items []T, err error)

	mu    sync.Mutex
	items []T

	// writeMu serializes writes so a Flush returns only after every item
	// added before it has been written or dropped.
	writeMu sync.Mutex

	retries int
	backoff time.Duration
}

func NewBatcher[T any](name string, size int, flush FlushFunc[T], onError func(string, []T, error)) *Batcher[T] {
	if size <= 0 {
		size = 1
	}
	return &Batcher[T]{
		name:    name,
		size:    size,
		flush:   flush,
		onError: onError,
		items:   make([]T, 0, size),
		retries: defaultRetryCount,
		backoff: defaultRetryBackoff,
	}
}

func (b *Batcher[T]) Name() string {
	return b.name
}

func (b *Batcher[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Add buffers items and flushes synchronously once the batch is full.
func (b *Batcher[T]) Add(ctx context.Context, items ...T) error {
	b.mu.Lock()
	b.items = append(b.items, items...)
	full := len(b.items) >= b.size
	b.mu.Unlock()

	if !full {
		return nil
	}
	return b.Flush(ctx)
}

// Flush writes whatever is buffered. It waits for writes already in flight.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	ready := b.take()
	b.mu.Unlock()

	if len(ready) == 0 {
		return nil
	}
	return b.write(ctx, ready)
}

// Run flushes on every tick until ctx is cancelled, then drains the buffer
// with a fresh short-lived context.
func (b *Batcher[T]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = b.Flush(drainCtx)
			cancel()
			return
		case <-ticker.C:
			_ = b.Flush(ctx)
		}
	}
}

// take must be called with mu held.
func (b *Batcher[T]) take() []T {
	if len(b.items) == 0 {
		return nil
	}
	ready := b.items
	b.items = make([]T, 0, b.size)
	return ready
}

func (b *Batcher[T]) write(ctx context.Context, items []T) error {
	var lastErr error
retry:
	for i := 0; ; i++ {
		if lastErr = b.flush(ctx, items); lastErr == nil {
			return nil
		}
		util.Warn("Batch write failed",
			util.String("sink", b.name),
			util.Int("attempt", i+1),
			util.Int("count", len(items)),
			util.ErrorField(lastErr))
		if i >= b.retries {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		case <-time.After(b.backoff):
		}
	}
	if b.onError != nil {
		b.onError(b.name, items, lastErr)
	}
	return lastErr
}
