package scanner

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"parkgate/backend/services/gate-service/internal/clock"
)

type step struct {
	text    string
	advance time.Duration
}

// scriptSource replays steps, advancing the clock before each read.
type scriptSource struct {
	clock *clock.Manual
	steps []step
	end   error
}

func (s *scriptSource) Next(ctx context.Context) (string, error) {
	if len(s.steps) == 0 {
		if s.end != nil {
			return "", s.end
		}
		return "", io.EOF
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	s.clock.Advance(st.advance)
	return st.text, nil
}

type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) onScan(ctx context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("scan task did not finish")
	}
}

func TestDebounceDropsHeldCode(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	src := &scriptSource{clock: clk, steps: []step{
		{text: "A"},
		{text: "A", advance: time.Second},
		{text: "  A  ", advance: time.Second},
		{text: "B", advance: time.Second},
		{text: "A", advance: time.Second},
		{text: "A", advance: 5 * time.Second},
		{text: ""},
	}}
	rec := &recorder{}

	h := Start(context.Background(), src, rec.onScan, WithDebounce(3*time.Second), WithClock(clk))
	waitDone(t, h)

	want := []string{"A", "B", "A", "A"}
	if got := rec.got(); !reflect.DeepEqual(got, want) {
		t.Fatalf("accepted %v, want %v", got, want)
	}
	if h.Err() != nil {
		t.Fatalf("clean end of input should not be an error: %v", h.Err())
	}
}

func TestWithoutDebounceEveryReadCounts(t *testing.T) {
	clk := clock.NewManual(time.Now())
	src := &scriptSource{clock: clk, steps: []step{{text: "A"}, {text: "A"}}}
	rec := &recorder{}

	h := Start(context.Background(), src, rec.onScan, WithClock(clk))
	waitDone(t, h)
	if n := len(rec.got()); n != 2 {
		t.Fatalf("expected 2 reads, got %d", n)
	}
}

func TestStopEndsBlockedTask(t *testing.T) {
	reads := make(chan string)
	rec := &recorder{}
	h := Start(context.Background(), ChanSource(reads), rec.onScan)

	reads <- "first"
	h.Stop()
	h.Stop()

	select {
	case <-h.Done():
	default:
		t.Fatalf("Stop should wait for the task to exit")
	}
	if got := rec.got(); len(got) != 1 || got[0] != "first" {
		t.Fatalf("unexpected reads %v", got)
	}
	if h.Err() != nil {
		t.Fatalf("stopped task should not report an error: %v", h.Err())
	}
	if h.ID == "" {
		t.Fatalf("handle should carry an id")
	}
}

func TestParentCancelStopsTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Start(ctx, ChanSource(make(chan string)), func(context.Context, string) {})
	cancel()
	waitDone(t, h)
}

func TestClosedChannelEndsTask(t *testing.T) {
	reads := make(chan string, 2)
	reads <- "x"
	close(reads)
	rec := &recorder{}
	h := Start(context.Background(), ChanSource(reads), rec.onScan)
	waitDone(t, h)
	if len(rec.got()) != 1 || h.Err() != nil {
		t.Fatalf("unexpected outcome: %v, %v", rec.got(), h.Err())
	}
}

func TestSourceFailureIsReported(t *testing.T) {
	unplugged := errors.New("camera unplugged")
	src := &scriptSource{clock: clock.NewManual(time.Now()), end: unplugged}
	h := Start(context.Background(), src, func(context.Context, string) {})
	waitDone(t, h)
	if !errors.Is(h.Err(), unplugged) {
		t.Fatalf("expected source error, got %v", h.Err())
	}
}

func TestDeviceKeys(t *testing.T) {
	hash, err := HashDeviceKey("lane-secret", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	keys := NewDeviceKeys(hash)
	if err := keys.Verify("lane-secret"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := keys.Verify("wrong"); !errors.Is(err, ErrDeviceKeyInvalid) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	if err := keys.Verify(""); !errors.Is(err, ErrDeviceKeyRequired) {
		t.Fatalf("expected missing key, got %v", err)
	}
	if err := NewDeviceKeys("").Verify("lane-secret"); !errors.Is(err, ErrNoDeviceKey) {
		t.Fatalf("expected unconfigured keys to refuse, got %v", err)
	}
	if _, err := HashDeviceKey("", 4); err == nil {
		t.Fatalf("empty key should not hash")
	}
}

func TestParseDirection(t *testing.T) {
	if d, err := ParseDirection(" EXIT "); err != nil || d != DirectionExit {
		t.Fatalf("ParseDirection = %q, %v", d, err)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatalf("expected unknown direction to fail")
	}
}
