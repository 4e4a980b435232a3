package inferlog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by AsyncWriter.Put when the queue is saturated.
var ErrQueueFull = errors.New("inference log queue full")

// AsyncWriter queues entries and writes them to an underlying Store from a
// background goroutine, so request handling never waits on the log store.
type AsyncWriter struct {
	next    Store
	log     zerolog.Logger
	timeout time.Duration

	queue chan Entry
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsyncWriter starts the background writer. size bounds the queue.
func NewAsyncWriter(next Store, size int, logger zerolog.Logger) *AsyncWriter {
	if size <= 0 {
		size = 1024
	}
	w := &AsyncWriter{
		next:    next,
		log:     logger.With().Str("component", "inferlog").Logger(),
		timeout: 10 * time.Second,
		queue:   make(chan Entry, size),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Put enqueues e without blocking.
func (w *AsyncWriter) Put(_ context.Context, e Entry) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errors.New("inference log writer closed")
	}
	select {
	case w.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for e := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.next.Put(ctx, e); err != nil {
			w.log.Warn().Err(err).Str("id", e.DeploymentID).Str("entry", e.ID).Msg("inference log write failed")
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (w *AsyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}
