package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops a handler that buffers records.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncCore is the shared pump behind every AsyncHandler clone. WithAttrs
// and WithGroup derive new handlers that feed the same channel, so one
// Close drains them all.
type asyncCore struct {
	ch      chan slog.Record
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// AsyncHandler decouples log emission from the writer: Handle enqueues and
// returns immediately, a worker pool does the actual formatting and I/O.
// When the buffer is full the record is dropped rather than blocking the
// caller.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// NewAsyncHandler starts workers draining a buffer of chanSize records into
// the inner handler.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	core := &asyncCore{ch: make(chan slog.Record, chanSize)}
	h := &AsyncHandler{inner: inner, core: core}
	for range workers {
		core.wg.Add(1)
		go func() {
			defer core.wg.Done()
			for rec := range core.ch {
				_ = h.inner.Handle(context.Background(), rec)
			}
		}()
	}
	return h
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a clone of the record. The record outlives this call, so
// it must be cloned before crossing the goroutine boundary.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // hugeParam: slog.Handler interface
	select {
	case h.core.ch <- rec.Clone():
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler over the same pump.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup derives a handler over the same pump.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount reports how many records were discarded on a full buffer.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close stops intake and blocks until the workers have flushed the buffer.
func (h *AsyncHandler) Close() {
	close(h.core.ch)
	h.core.wg.Wait()
}
