package app

import (
	"context"

	"github.com/rs/zerolog"

	"review_pipeline/internal/adapters/observability"
)

// FlushFunc writes one batch and returns how many documents were confirmed.
type FlushFunc[T any] func(ctx context.Context, batch []T) (int64, error)

// BatchWriter buffers documents and flushes them in fixed-size batches.
// A failed batch is logged and counted; later batches are still attempted.
type BatchWriter[T any] struct {
	size  int
	flush FlushFunc[T]
	out   *Outcome
	log   zerolog.Logger
	buf   []T
}

func NewBatchWriter[T any](size int, flush FlushFunc[T], out *Outcome, log zerolog.Logger) *BatchWriter[T] {
	if size <= 0 {
		size = 1
	}
	return &BatchWriter[T]{size: size, flush: flush, out: out, log: log, buf: make([]T, 0, size)}
}

// Add buffers doc and writes the batch once it is full. A full batch is
// written even when ctx is cancelled.
func (w *BatchWriter[T]) Add(ctx context.Context, doc T) {
	w.buf = append(w.buf, doc)
	if len(w.buf) >= w.size {
		w.Flush(context.WithoutCancel(ctx))
	}
}

// Pending is the number of buffered, unwritten documents.
func (w *BatchWriter[T]) Pending() int { return len(w.buf) }

func (w *BatchWriter[T]) Flush(ctx context.Context) {
	if len(w.buf) == 0 {
		return
	}
	batch := w.buf
	w.buf = make([]T, 0, w.size)

	n, err := w.flush(ctx, batch)
	observability.ObserveFlush(w.out.Stage, err)
	if n > 0 {
		w.out.wrote(n)
	}
	if err != nil {
		w.out.FailedBatches++
		w.out.skip(SkipStorage, len(batch)-int(n))
		w.log.Error().Str("err", truncate(err.Error(), 200)).Int("batch", len(batch)).Int64("written", n).Msg("batch write failed")
		return
	}
	if dup := len(batch) - int(n); dup > 0 {
		// rows the store ignored already existed
		w.out.skip(SkipDuplicate, dup)
	}
	w.log.Debug().Int("batch", len(batch)).Int64("written", n).Msg("batch flushed")
}

// Close flushes the remainder. It still writes when ctx is already
// cancelled, so an interrupted run only loses documents never added.
func (w *BatchWriter[T]) Close(ctx context.Context) {
	w.Flush(context.WithoutCancel(ctx))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
