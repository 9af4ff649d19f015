// Package scanner runs gate QR readers as cancellable tasks. A reader is any Source of
// decoded text; every accepted read is handed to a callback that drives the session
// lifecycle.
package scanner

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/clock"
	"parkgate/backend/services/gate-service/internal/metrics"
)

// ErrSourceClosed is returned by a Source that will not yield further reads.
var ErrSourceClosed = errors.New("scanner: source closed")

// Source yields decoded barcode text. Next blocks until a read is available or ctx is done.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// OnScan receives each accepted read.
type OnScan func(ctx context.Context, text string)

// Option tunes a scan task.
type Option func(*Handle)

// WithDebounce drops a read identical to the previous one within d.
func WithDebounce(d time.Duration) Option {
	return func(h *Handle) { h.debounce = d }
}

// WithClock replaces the wall clock used for debouncing.
func WithClock(c clock.Clock) Option {
	return func(h *Handle) { h.clock = c }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handle) { h.logger = l }
}

// WithMetrics counts reads under the given mode label.
func WithMetrics(m *metrics.Metrics, mode string) Option {
	return func(h *Handle) {
		h.metrics = m
		h.mode = mode
	}
}

// Handle controls a running scan task.
type Handle struct {
	ID string

	src      Source
	onScan   OnScan
	debounce time.Duration
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
	mode     string

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	err      error
	lastText string
	lastAt   time.Time
}

// Start reads from src until ctx is done, Stop is called or src is exhausted.
func Start(ctx context.Context, src Source, onScan OnScan, opts ...Option) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:     uuid.NewString(),
		src:    src,
		onScan: onScan,
		clock:  clock.NewSystem(),
		logger: zap.NewNop(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.run(runCtx)
	return h
}

// Stop cancels the task and waits for the callback in flight to return. It is safe to
// call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.cancel)
	<-h.done
}

// Done is closed once the task has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err reports why the task ended on its own; nil after Stop or a clean end of input.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) run(ctx context.Context) {
	defer close(h.done)
	defer h.cancel()

	for {
		text, err := h.src.Next(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, ErrSourceClosed) {
				h.logger.Warn("scanner source failed", zap.String("scan_id", h.ID), zap.Error(err))
				h.mu.Lock()
				h.err = err
				h.mu.Unlock()
			}
			return
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if h.repeated(text) {
			h.metrics.Scan(h.mode, "debounced")
			continue
		}
		h.metrics.Scan(h.mode, "read")
		h.onScan(ctx, text)

		if ctx.Err() != nil {
			return
		}
	}
}

// repeated reports whether text is the same code still held in front of the reader. A
// held code keeps extending its own window.
func (h *Handle) repeated(text string) bool {
	now := h.clock.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	dup := h.debounce > 0 && text == h.lastText && now.Sub(h.lastAt) < h.debounce
	h.lastText = text
	h.lastAt = now
	return dup
}

// ChanSource adapts a channel of reads. A closed channel ends the task.
type ChanSource <-chan string

// Next implements Source.
func (c ChanSource) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-c:
		if !ok {
			return "", ErrSourceClosed
		}
		return text, nil
	}
}
