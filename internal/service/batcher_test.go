package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFlush struct {
	mu      sync.Mutex
	batches [][]int
	errs    []error
}

func (r *recordingFlush) flush(_ context.Context, items []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	r.batches = append(r.batches, append([]int(nil), items...))
	return nil
}

func (r *recordingFlush) snapshot() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int(nil), r.batches...)
}

func TestBatcher_FlushesWhenFull(t *testing.T) {
	rec := &recordingFlush{}
	b := NewBatcher("test", 3, rec.flush, nil)
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, 1, 2))
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, 2, b.Len())

	require.NoError(t, b.Add(ctx, 3))
	assert.Equal(t, [][]int{{1, 2, 3}}, rec.snapshot())
	assert.Equal(t, 0, b.Len())

	require.NoError(t, b.Add(ctx, 4))
	require.NoError(t, b.Flush(ctx))
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, [][]int{{1, 2, 3}, {4}}, rec.snapshot())
}

func TestBatcher_RetriesThenSucceeds(t *testing.T) {
	rec := &recordingFlush{errs: []error{errors.New("transient")}}
	var dropped []int
	b := NewBatcher("test", 1, rec.flush, func(_ string, items []int, _ error) { dropped = append(dropped, items...) })
	b.backoff = time.Millisecond

	require.NoError(t, b.Add(context.Background(), 7))
	assert.Equal(t, [][]int{{7}}, rec.snapshot())
	assert.Empty(t, dropped)
}

func TestBatcher_DropsAfterRetries(t *testing.T) {
	boom := errors.New("down")
	rec := &recordingFlush{errs: []error{boom, boom, boom}}
	var dropped []int
	var droppedErr error
	b := NewBatcher("test", 2, rec.flush, func(name string, items []int, err error) {
		assert.Equal(t, "test", name)
		dropped = append(dropped, items...)
		droppedErr = err
	})
	b.backoff = time.Millisecond

	err := b.Add(context.Background(), 1, 2)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2}, dropped)
	assert.ErrorIs(t, droppedErr, boom)
	assert.Equal(t, 0, b.Len())
}

func TestBatcher_RunFlushesOnTick(t *testing.T) {
	rec := &recordingFlush{}
	b := NewBatcher("test", 100, rec.flush, nil)
	require.NoError(t, b.Add(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Add(context.Background(), 2))
	cancel()
	<-done
	assert.Equal(t, []int{2}, rec.snapshot()[len(rec.snapshot())-1])
}

func TestBatcher_FlushWaitsForInFlightWrite(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	b := NewBatcher("test", 1, func(_ context.Context, _ []int) error {
		close(started)
		<-release
		return nil
	}, nil)

	go func() { _ = b.Add(context.Background(), 1) }()
	<-started

	flushed := make(chan struct{})
	go func() {
		_ = b.Flush(context.Background())
		close(flushed)
	}()

	select {
	case <-flushed:
		t.Fatal("flush returned while a write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-flushed:
	case <-time.After(5 * time.Second):
		t.Fatal("flush never returned")
	}
}
