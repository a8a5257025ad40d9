package warmup

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

func newTestRegistry(t *testing.T, clock *fakeClock) *Registry {
	t.Helper()
	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewRegistry(st, clock)
}

const jid = "6281234567890@s.whatsapp.net"

func TestNewContactBudget(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)

	for i := 0; i < 3; i++ {
		v := r.MayMessage(jid)
		if !v.Allow {
			t.Fatalf("send %d to a new contact should be allowed, got %+v", i+1, v)
		}
		if v.Status != StatusNew {
			t.Fatalf("status = %s, want NEW", v.Status)
		}
		r.RecordSend(jid)
		clock.Advance(5 * time.Minute)
	}

	v := r.MayMessage(jid)
	if v.Allow {
		t.Fatal("4th send to a NEW contact within 24h should be denied")
	}
	if v.PerDayRemaining != 0 {
		t.Fatalf("remaining = %d, want 0", v.PerDayRemaining)
	}
}

func TestWindowSlides(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)

	for i := 0; i < 3; i++ {
		r.RecordSend(jid)
	}
	if v := r.MayMessage(jid); v.Allow {
		t.Fatal("budget should be exhausted")
	}

	clock.Advance(24*time.Hour + time.Minute)
	v := r.MayMessage(jid)
	if !v.Allow {
		t.Fatal("budget should refresh after the 24h window slides")
	}
	if v.PerDayRemaining != 3 {
		t.Fatalf("remaining = %d, want 3", v.PerDayRemaining)
	}
}

func TestStatusProgression(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	r.RecordSend(jid)

	tests := []struct {
		advance       time.Duration
		wantStatus    Status
		wantRemaining int
	}{
		// The first hop keeps one send in the window; later hops slide
		// past it and past the NEW and WARMING age thresholds.
		{time.Hour, StatusNew, 2},
		{72 * time.Hour, StatusWarming, 10},
		{100 * time.Hour, StatusWarmed, -1},
	}
	for _, tt := range tests {
		clock.Advance(tt.advance)
		v := r.MayMessage(jid)
		if !v.Allow {
			t.Fatalf("at %s: expected allow, got %+v", tt.wantStatus, v)
		}
		if v.Status != tt.wantStatus {
			t.Fatalf("status = %s, want %s", v.Status, tt.wantStatus)
		}
		if v.PerDayRemaining != tt.wantRemaining {
			t.Fatalf("at %s: remaining = %d, want %d", tt.wantStatus, v.PerDayRemaining, tt.wantRemaining)
		}
	}
}

func TestUnknownRecipientIsNew(t *testing.T) {
	r := newTestRegistry(t, newFakeClock())
	v := r.MayMessage("6289999999999@s.whatsapp.net")
	if !v.Allow || v.Status != StatusNew || v.PerDayRemaining != 3 {
		t.Fatalf("unknown recipient verdict = %+v", v)
	}
}

func TestSummary(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)

	r.RecordSend("a@s.whatsapp.net")
	clock.Advance(80 * time.Hour)
	r.RecordSend("b@s.whatsapp.net")

	s := r.Summary()
	if s.Total != 2 || s.New != 1 || s.Warming != 1 {
		t.Fatalf("summary = %+v, want total=2 new=1 warming=1", s)
	}
}

func TestPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := state.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	clock := newFakeClock()

	r1 := NewRegistry(st, clock)
	for i := 0; i < 3; i++ {
		r1.RecordSend(jid)
	}

	r2 := NewRegistry(st, clock)
	if v := r2.MayMessage(jid); v.Allow {
		t.Fatal("budget exhaustion must survive a restart")
	}
}
