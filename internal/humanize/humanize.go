// Package humanize owns every timing decision in the bridge: typing
// durations, think/read pauses, and jittered delays. Nothing else in the
// codebase computes a sleep length.
package humanize

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	// Per-character typing speed is sampled uniformly from this range
	// once per message.
	typingMsPerCharMin = 35.0
	typingMsPerCharMax = 65.0

	thinkingFloorMs = 250
	thinkingCeilMs  = 4000

	readFloorMs = 500
	readCeilMs  = 15000
)

// Simulator produces human-shaped delays from an injected clock and RNG.
type Simulator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulator(rnd *rand.Rand) *Simulator {
	return &Simulator{rnd: rnd}
}

// TypingDuration maps message length to a typing time clamped to
// [minMs, maxMs]. The per-character speed varies per call so repeated
// sends of the same text do not produce identical timings.
func (s *Simulator) TypingDuration(text string, minMs, maxMs int) time.Duration {
	s.mu.Lock()
	perChar := typingMsPerCharMin + s.rnd.Float64()*(typingMsPerCharMax-typingMsPerCharMin)
	s.mu.Unlock()

	ms := float64(len(text)) * perChar
	return clampMs(ms, minMs, maxMs)
}

// ThinkingPause is the pause before typing starts, roughly proportional
// to message length with up to ±100% jitter.
func (s *Simulator) ThinkingPause(text string) time.Duration {
	base := 500.0 + 2.0*float64(len(text))
	s.mu.Lock()
	jitter := s.rnd.Float64() * 2 // 0..2 of base
	s.mu.Unlock()
	return clampMs(base*jitter, thinkingFloorMs, thinkingCeilMs)
}

// ReadDelay approximates how long a human takes to open and read a
// message: ~300ms per word with ±40% jitter.
func (s *Simulator) ReadDelay(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	base := 300.0 * float64(words)
	s.mu.Lock()
	jitter := 0.6 + s.rnd.Float64()*0.8 // 0.6..1.4
	s.mu.Unlock()
	return clampMs(base*jitter, readFloorMs, readCeilMs)
}

// HumanDelay returns a uniform duration in [base*(1-variance), base*(1+variance)].
func (s *Simulator) HumanDelay(baseMs int, variance float64) time.Duration {
	lo := float64(baseMs) * (1 - variance)
	hi := float64(baseMs) * (1 + variance)
	s.mu.Lock()
	ms := lo + s.rnd.Float64()*(hi-lo)
	s.mu.Unlock()
	return time.Duration(ms) * time.Millisecond
}

// Jitter returns a uniform duration in [d*lo, d*hi].
func (s *Simulator) Jitter(d time.Duration, lo, hi float64) time.Duration {
	s.mu.Lock()
	f := lo + s.rnd.Float64()*(hi-lo)
	s.mu.Unlock()
	return time.Duration(float64(d) * f)
}

// Intn exposes the underlying RNG for catalog picks.
func (s *Simulator) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}

func clampMs(ms float64, minMs, maxMs int) time.Duration {
	if ms < float64(minMs) {
		ms = float64(minMs)
	}
	if ms > float64(maxMs) {
		ms = float64(maxMs)
	}
	return time.Duration(ms) * time.Millisecond
}
