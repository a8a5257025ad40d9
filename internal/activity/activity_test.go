package activity

import (
	"sync"
	"testing"
	"time"

	"github.com/ardiansr/wa-bridge/internal/state"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T, clock *fakeClock) *Tracker {
	t.Helper()
	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewTracker(st, clock)
}

func TestResponseRatio(t *testing.T) {
	tr := newTestTracker(t, newFakeClock())

	tr.RecordSent()
	tr.RecordSent()
	tr.RecordReceived()

	s := tr.Snapshot()
	if s.Sent != 2 || s.Received != 1 {
		t.Fatalf("counters = %d/%d, want 2/1", s.Sent, s.Received)
	}
	if s.ResponseRatio != 0.5 {
		t.Fatalf("ratio = %v, want 0.5", s.ResponseRatio)
	}
}

func TestRatioZeroBeforeFirstSend(t *testing.T) {
	tr := newTestTracker(t, newFakeClock())
	tr.RecordReceived()
	if got := tr.Snapshot().ResponseRatio; got != 0 {
		t.Fatalf("ratio with zero sends = %v, want 0", got)
	}
}

func TestResponseTimeSampling(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(t, clock)

	tr.RecordReceived()
	clock.Advance(2 * time.Minute)
	tr.RecordSent()

	if got := tr.Snapshot().AvgResponseTime; got != 2*time.Minute {
		t.Fatalf("avg response time = %v, want 2m", got)
	}

	// A send with no pending inbound adds no sample.
	tr.RecordSent()
	if got := tr.Snapshot().AvgResponseTime; got != 2*time.Minute {
		t.Fatalf("avg changed without a pending inbound: %v", got)
	}
}

func TestCountersPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := state.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	clock := newFakeClock()

	t1 := NewTracker(st, clock)
	t1.RecordSent()
	t1.RecordReceived()
	t1.Flush()

	t2 := NewTracker(st, clock)
	s := t2.Snapshot()
	if s.Sent != 1 || s.Received != 1 {
		t.Fatalf("counters after restart = %d/%d, want 1/1", s.Sent, s.Received)
	}
}
