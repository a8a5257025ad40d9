// Package banrisk scores adverse operational signals and latches the
// send pipeline closed (hibernation) when the account looks like it is
// about to be flagged.
package banrisk

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/humanize"
	"github.com/ardiansr/wa-bridge/internal/state"
)

const (
	stateFile    = "risk-events"
	stateVersion = 1

	retention = 24 * time.Hour

	// Two delivery failures this close together escalate to HIGH
	// regardless of the decayed score.
	failurePairWindow = 5 * time.Minute

	autoHibernateMinimum = 30 * time.Minute
)

// Kind identifies a risk event type.
type Kind string

const (
	DeliveryFailure    Kind = "DELIVERY_FAILURE"
	RateLimitHit       Kind = "RATE_LIMIT_HIT"
	ConnectionDrop     Kind = "CONNECTION_DROP"
	RecipientBlock     Kind = "RECIPIENT_BLOCK"
	SuspiciousLatency  Kind = "SUSPICIOUS_LATENCY"
	HibernationStarted Kind = "HIBERNATION_STARTED"
)

func (k Kind) weight() float64 {
	switch k {
	case DeliveryFailure:
		return 20
	case RateLimitHit:
		return 10
	case ConnectionDrop:
		return 8
	case RecipientBlock:
		return 35
	case SuspiciousLatency:
		return 5
	default:
		return 0
	}
}

// Level maps a score band to an operator-facing severity.
type Level string

const (
	LevelNormal   Level = "NORMAL"
	LevelElevated Level = "ELEVATED"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

func levelForScore(score float64) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 30:
		return LevelElevated
	default:
		return LevelNormal
	}
}

func levelRank(l Level) int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelElevated:
		return 1
	default:
		return 0
	}
}

// Event is a weighted, timestamped risk observation.
type Event struct {
	Kind Kind  `json:"kind"`
	At   int64 `json:"at"` // unix millis
}

// Status is the externally visible risk state.
type Status struct {
	Score          float64 `json:"score"`
	Level          Level   `json:"level"`
	Hibernating    bool    `json:"hibernating"`
	Recommendation string  `json:"recommendation"`
	EnteredAt      int64   `json:"hibernationEnteredAt,omitempty"`
	MinimumMs      int64   `json:"hibernationMinimumMs,omitempty"`
}

var ErrHibernationTooEarly = errors.New("hibernation minimum duration has not elapsed")

type System struct {
	mu    sync.Mutex
	clock humanize.Clock
	store *state.Store

	events []Event

	hibernating bool
	enteredAt   time.Time
	minimum     time.Duration

	dirty bool
}

func NewSystem(store *state.Store, clock humanize.Clock) *System {
	s := &System{clock: clock, store: store}
	var p []Event
	ok, err := store.Load(stateFile, stateVersion, &p)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load risk events, starting fresh")
	} else if ok {
		s.events = p
		s.prune(clock.Now())
	}
	return s
}

// Record appends an event and re-evaluates the level. A transition into
// CRITICAL auto-enters hibernation. The pre-event level is derived from
// the decayed score at call time, so decay since the last observation
// counts as having left CRITICAL.
func (s *System) Record(kind Kind) {
	s.mu.Lock()
	now := s.clock.Now()
	s.prune(now)
	before := s.level(now)
	s.events = append(s.events, Event{Kind: kind, At: now.UnixMilli()})
	s.dirty = true

	entered := false
	if s.level(now) == LevelCritical && before != LevelCritical && !s.hibernating {
		s.hibernating = true
		s.enteredAt = now
		s.minimum = autoHibernateMinimum
		s.events = append(s.events, Event{Kind: HibernationStarted, At: now.UnixMilli()})
		entered = true
	}
	s.mu.Unlock()

	if entered {
		log.Warn().Str("level", string(LevelCritical)).
			Dur("minimum", autoHibernateMinimum).
			Msg("🛑 Risk level CRITICAL, entering hibernation")
	}
	s.persist()
}

// Gate reports whether the send pipeline may admit outbound messages.
func (s *System) Gate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.hibernating
}

func (s *System) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.prune(now)
	score := s.score(now)
	level := s.level(now)

	st := Status{
		Score:          score,
		Level:          level,
		Hibernating:    s.hibernating,
		Recommendation: recommendation(level, s.hibernating),
	}
	if s.hibernating {
		st.EnteredAt = s.enteredAt.UnixMilli()
		st.MinimumMs = s.minimum.Milliseconds()
	}
	return st
}

// EnterHibernation latches the pipeline closed for at least d.
func (s *System) EnterHibernation(d time.Duration) {
	s.mu.Lock()
	now := s.clock.Now()
	s.hibernating = true
	s.enteredAt = now
	s.minimum = d
	s.events = append(s.events, Event{Kind: HibernationStarted, At: now.UnixMilli()})
	s.dirty = true
	s.mu.Unlock()

	log.Warn().Dur("minimum", d).Msg("Hibernation engaged by operator")
	s.persist()
}

// ExitHibernation releases the latch, but only after the minimum
// duration has elapsed.
func (s *System) ExitHibernation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hibernating {
		return nil
	}
	if s.clock.Now().Sub(s.enteredAt) < s.minimum {
		return ErrHibernationTooEarly
	}
	s.hibernating = false
	log.Info().Msg("Hibernation released")
	return nil
}

// Reset clears all events and releases hibernation unconditionally.
// Operator escape hatch only.
func (s *System) Reset() {
	s.mu.Lock()
	s.events = nil
	s.hibernating = false
	s.dirty = true
	s.mu.Unlock()

	log.Warn().Msg("Risk state reset by operator")
	s.persist()
}

func (s *System) Flush() {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if dirty {
		s.persist()
	}
}

// Sweep drops expired events; driven by the background scheduler.
func (s *System) Sweep() {
	s.mu.Lock()
	before := len(s.events)
	s.prune(s.clock.Now())
	if len(s.events) != before {
		s.dirty = true
	}
	s.mu.Unlock()
	s.Flush()
}

func (s *System) persist() {
	s.mu.Lock()
	snapshot := append([]Event(nil), s.events...)
	s.dirty = false
	s.mu.Unlock()

	if err := s.store.Save(stateFile, stateVersion, snapshot); err != nil {
		log.Warn().Err(err).Msg("Failed to persist risk events")
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
	}
}

// score is the decayed weighted sum over retained events. Caller holds s.mu.
func (s *System) score(now time.Time) float64 {
	var total float64
	for _, e := range s.events {
		age := now.Sub(time.UnixMilli(e.At))
		decay := 1 - float64(age)/float64(retention)
		if decay < 0 {
			decay = 0
		}
		total += e.Kind.weight() * decay
	}
	return total
}

// level applies the score bands plus the fast-path escalations: a
// retained RECIPIENT_BLOCK, or two DELIVERY_FAILUREs within five
// minutes, force at least HIGH. Caller holds s.mu.
func (s *System) level(now time.Time) Level {
	level := levelForScore(s.score(now))
	if levelRank(level) >= levelRank(LevelHigh) {
		return level
	}

	var lastFailure time.Time
	for _, e := range s.events {
		switch e.Kind {
		case RecipientBlock:
			return LevelHigh
		case DeliveryFailure:
			at := time.UnixMilli(e.At)
			if !lastFailure.IsZero() && at.Sub(lastFailure) <= failurePairWindow {
				return LevelHigh
			}
			lastFailure = at
		}
	}
	return level
}

// prune drops events past retention. Caller holds s.mu.
func (s *System) prune(now time.Time) {
	cutoff := now.Add(-retention).UnixMilli()
	kept := s.events[:0]
	for _, e := range s.events {
		if e.At > cutoff {
			kept = append(kept, e)
		}
	}
	s.events = kept
}

func recommendation(level Level, hibernating bool) string {
	if hibernating {
		return "hibernating; wait for the minimum duration before resuming"
	}
	switch level {
	case LevelCritical:
		return "stop all outreach immediately"
	case LevelHigh:
		return "pause outreach and let events decay"
	case LevelElevated:
		return "slow down and avoid new recipients"
	default:
		return "operate normally"
	}
}
