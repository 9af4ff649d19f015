package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Expirer cancels reservations past their deadline and returns how many it cancelled.
type Expirer interface {
	ExpireReservations(ctx context.Context) (int, error)
}

// ExpiryWorker sweeps expired reservations on a fixed interval.
type ExpiryWorker struct {
	expirer  Expirer
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExpiryWorker builds worker.
func NewExpiryWorker(expirer Expirer, interval time.Duration, logger *zap.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryWorker{
		expirer:  expirer,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop; the first sweep runs immediately. Calling Start on a
// running worker does nothing.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(runCtx, w.done)
}

// Stop ends the loop and waits for a sweep in progress.
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *ExpiryWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	n, err := w.expirer.ExpireReservations(sweepCtx)
	if err != nil && ctx.Err() == nil {
		w.logger.Warn("reservation sweep incomplete", zap.Int("expired", n), zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("expired reservations", zap.Int("count", n))
	}
}
