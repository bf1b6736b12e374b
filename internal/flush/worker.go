package flush

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/apiguard/internal/observability"
)

// Worker runs the flusher on a fixed interval as an explicit background
// goroutine with start/stop signals, so an owning process decides at
// shutdown whether the in-flight cycle is awaited or abandoned.
type Worker struct {
	flusher  *Flusher
	interval time.Duration
	logger   observability.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	started  atomic.Bool
	startOne sync.Once
	stopOne  sync.Once
}

// NewWorker creates a flush worker.
func NewWorker(flusher *Flusher, interval time.Duration, logger observability.Logger) *Worker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Worker{
		flusher:  flusher,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background loop. Subsequent calls are no-ops.
func (w *Worker) Start() {
	w.startOne.Do(func() {
		w.started.Store(true)
		go w.run()
	})
}

// run is the worker loop. A final flush on stop ships whatever the
// buffer still holds before the process exits.
func (w *Worker) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flusher.FlushOnce(context.Background())
		case <-w.stopCh:
			w.flusher.FlushOnce(context.Background())
			return
		}
	}
}

// Stop signals the loop to exit and waits for the in-flight cycle,
// including the final flush, to finish. Safe to call more than once.
func (w *Worker) Stop() {
	if !w.started.Load() {
		return
	}
	w.stopOne.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
	w.logger.Info("flush worker stopped")
}
