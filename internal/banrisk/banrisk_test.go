package banrisk

import (
	"errors"
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

func newTestSystem(t *testing.T, clock *fakeClock) *System {
	t.Helper()
	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewSystem(st, clock)
}

func TestEventWeights(t *testing.T) {
	tests := []struct {
		kind Kind
		want float64
	}{
		{DeliveryFailure, 20},
		{RateLimitHit, 10},
		{ConnectionDrop, 8},
		{RecipientBlock, 35},
		{SuspiciousLatency, 5},
		{HibernationStarted, 0},
	}
	for _, tt := range tests {
		if got := tt.kind.weight(); got != tt.want {
			t.Errorf("%s weight = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestScoreDecaysLinearly(t *testing.T) {
	clock := newFakeClock()
	s := newTestSystem(t, clock)

	s.Record(RateLimitHit)
	if got := s.Status().Score; got != 10 {
		t.Fatalf("fresh score = %v, want 10", got)
	}

	clock.Advance(12 * time.Hour)
	if got := s.Status().Score; got != 5 {
		t.Fatalf("score after 12h = %v, want 5", got)
	}

	clock.Advance(13 * time.Hour)
	if got := s.Status().Score; got != 0 {
		t.Fatalf("score after 25h = %v, want 0 (event expired)", got)
	}
}

func TestLevelBands(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelNormal},
		{29.9, LevelNormal},
		{30, LevelElevated},
		{59.9, LevelElevated},
		{60, LevelHigh},
		{79.9, LevelHigh},
		{80, LevelCritical},
	}
	for _, tt := range tests {
		if got := levelForScore(tt.score); got != tt.want {
			t.Errorf("levelForScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestRecipientBlockForcesHigh(t *testing.T) {
	clock := newFakeClock()
	s := newTestSystem(t, clock)

	s.Record(RecipientBlock) // score 35 would only be ELEVATED
	st := s.Status()
	if st.Level != LevelHigh {
		t.Fatalf("level = %s, want HIGH (fast path on block)", st.Level)
	}
	if st.Hibernating {
		t.Fatal("a single block should not hibernate")
	}
}

func TestFailurePairForcesHigh(t *testing.T) {
	clock := newFakeClock()
	s := newTestSystem(t, clock)

	s.Record(DeliveryFailure)
	clock.Advance(2 * time.Minute)
	s.Record(DeliveryFailure) // score 40, but two failures within 5min

	if got := s.Status().Level; got != LevelHigh {
		t.Fatalf("level = %s, want HIGH", got)
	}
}

func TestSpacedFailuresStayElevated(t *testing.T) {
	clock := newFakeClock()
	s := newTestSystem(t, clock)

	s.Record(DeliveryFailure)
	clock.Advance(10 * time.Minute)
	s.Record(DeliveryFailure)

	if got := s.Status().Level; got != LevelElevated {
		t.Fatalf("level = %s, want ELEVATED (failures outside the pair window)", got)
	}
}

func TestCriticalAutoHibernates(t *testing.T) {
	clock := newFakeClock()
	s := newTestSystem(t, clock)

	s.Record(RecipientBlock)
	s.Record(RecipientBlock)
	if s.Status().Hibernating {
		t.Fatal("score 70 should not hibernate yet")
	}

	s.Record(RecipientBlock) // score 105: transition into CRITICAL
	st := s.Status()
	if st.Level != LevelCritical || !st.Hibernating {
		t.Fatalf("status = %+v, want CRITICAL and hibernating", st)
	}
	if s.Gate() {
		t.Fatal("gate must be closed while hibernating")
	}

	if err := s.ExitHibernation(); !errors.Is(err, ErrHibernationTooEarly) {
		t.Fatalf("early exit error = %v, want ErrHibernationTooEarly", err)
	}

	clock.Advance(31 * time.Minute)
	if err := s.ExitHibernation(); err != nil {
		t.Fatalf("exit after the minimum should succeed, got %v", err)
	}
	if !s.Gate() {
		t.Fatal("gate must open after exiting hibernation")
	}
}

func TestCriticalAfterExitHibernatesAgain(t *testing.T) {
	clock := newFakeClock()
	s := newTestSystem(t, clock)

	s.Record(RecipientBlock)
	s.Record(RecipientBlock)
	s.Record(RecipientBlock) // score 105, auto-hibernates
	if !s.Status().Hibernating {
		t.Fatal("expected auto-hibernation at CRITICAL")
	}

	clock.Advance(6 * time.Hour)
	if err := s.ExitHibernation(); err != nil {
		t.Fatal(err)
	}
	// Decay has dropped the score to 78.75: the account has left
	// CRITICAL even though no event was recorded in between.
	if got := s.Status().Level; got != LevelHigh {
		t.Fatalf("level after decay = %s, want HIGH", got)
	}

	s.Record(RateLimitHit) // 88.75: a fresh transition into CRITICAL
	st := s.Status()
	if st.Level != LevelCritical {
		t.Fatalf("level = %s, want CRITICAL", st.Level)
	}
	if !st.Hibernating {
		t.Fatal("a second transition into CRITICAL must hibernate again")
	}
	if st.EnteredAt != clock.Now().UnixMilli() {
		t.Fatalf("hibernation entered at %d, want %d (the new transition)", st.EnteredAt, clock.Now().UnixMilli())
	}
}

func TestManualHibernation(t *testing.T) {
	clock := newFakeClock()
	s := newTestSystem(t, clock)

	s.EnterHibernation(2 * time.Hour)
	if s.Gate() {
		t.Fatal("gate must close on manual hibernation")
	}

	clock.Advance(time.Hour)
	if err := s.ExitHibernation(); !errors.Is(err, ErrHibernationTooEarly) {
		t.Fatalf("exit at 1h of a 2h minimum = %v, want ErrHibernationTooEarly", err)
	}

	clock.Advance(time.Hour + time.Minute)
	if err := s.ExitHibernation(); err != nil {
		t.Fatal(err)
	}
}

func TestExitWhenNotHibernatingIsNoop(t *testing.T) {
	s := newTestSystem(t, newFakeClock())
	if err := s.ExitHibernation(); err != nil {
		t.Fatalf("exit while not hibernating = %v, want nil", err)
	}
}

func TestResetClearsEverything(t *testing.T) {
	clock := newFakeClock()
	s := newTestSystem(t, clock)

	s.Record(RecipientBlock)
	s.Record(RecipientBlock)
	s.Record(RecipientBlock)
	s.Reset()

	st := s.Status()
	if st.Score != 0 || st.Level != LevelNormal || st.Hibernating {
		t.Fatalf("status after reset = %+v", st)
	}
}

func TestEventsPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := state.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	clock := newFakeClock()

	s1 := NewSystem(st, clock)
	s1.Record(DeliveryFailure)
	s1.Record(RateLimitHit)

	s2 := NewSystem(st, clock)
	if got := s2.Status().Score; got != 30 {
		t.Fatalf("score after restart = %v, want 30", got)
	}
}
