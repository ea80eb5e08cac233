package persist

import (
	"context"
	"sync"
	"time"

	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
)

// Upserter is the write side of Gateway.
type Upserter interface {
	Upsert(ctx context.Context, collection, key string, partial map[string]any) error
}

type job struct {
	collection string
	key        string
	doc        map[string]any
}

// Writer drains upserts on one goroutine through a bounded queue. When the
// queue is full the write is dropped and logged; the in-memory snapshot
// stays authoritative. Writes still queued when the process dies are lost.
type Writer struct {
	gw      Upserter
	jobs    chan job
	onError func(ctx context.Context, err error)
	timeout time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

var _ interfaces.Persister = (*Writer)(nil)

// NewWriter builds a writer; onError is told about failed or dropped writes.
func NewWriter(gw Upserter, size int, onError func(ctx context.Context, err error)) *Writer {
	if size <= 0 {
		size = 256
	}
	return &Writer{
		gw:      gw,
		jobs:    make(chan job, size),
		onError: onError,
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
	}
}

// Start launches the drain loop. It exits once Close has drained the queue.
func (w *Writer) Start() {
	w.startOnce.Do(func() {
		go w.loop()
	})
}

func (w *Writer) loop() {
	defer close(w.done)
	for j := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.gw.Upsert(ctx, j.collection, j.key, j.doc); err != nil {
			logger.ErrorWithErr(ctx, "Failed to persist state", err, "collection", j.collection, "key", j.key)
			w.report(ctx, err)
		}
		cancel()
	}
}

// UpsertAsync enqueues doc without blocking.
func (w *Writer) UpsertAsync(collection, key string, doc map[string]any) {
	defer func() {
		// enqueue after Close
		if r := recover(); r != nil {
			logger.Warn(context.Background(), "Persist writer closed, dropping write", "collection", collection, "key", key)
		}
	}()

	select {
	case w.jobs <- job{collection: collection, key: key, doc: doc}:
	default:
		ctx := context.Background()
		logger.Warn(ctx, "Persist queue full, dropping write", "collection", collection, "key", key, "capacity", cap(w.jobs))
		w.report(ctx, &DroppedWriteError{Collection: collection, Key: key})
	}
}

// Close stops accepting writes and waits for the queue to drain.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.jobs)
	})
	w.Start()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) report(ctx context.Context, err error) {
	if w.onError != nil {
		w.onError(ctx, err)
	}
}

// DroppedWriteError reports a write discarded because the queue was full.
type DroppedWriteError struct {
	Collection string
	Key        string
}

func (e *DroppedWriteError) Error() string {
	return "persist queue full, dropped write for " + e.Collection + "/" + e.Key
}
