// Package ratelimit enforces the account-age tiered send budget: sliding
// hourly and daily windows plus a minimum interval between sends.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/humanize"
	"github.com/ardiansr/wa-bridge/internal/state"
)

const (
	stateFile    = "rate-limits"
	stateVersion = 1

	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour

	// Jitter added to INTERVAL waits: ±50% of a 1s base.
	intervalJitterBaseMs = 1000
)

// Tier buckets an account by age in weeks.
type Tier int

const (
	TierFresh Tier = iota
	TierWarming
	TierMature
)

func TierForWeeks(weeks int) Tier {
	switch {
	case weeks <= 1:
		return TierFresh
	case weeks <= 4:
		return TierWarming
	default:
		return TierMature
	}
}

func (t Tier) String() string {
	switch t {
	case TierFresh:
		return "FRESH"
	case TierWarming:
		return "WARMING"
	default:
		return "MATURE"
	}
}

// Limits is the (hourlyCap, dailyCap, minInterval) triple for a tier.
type Limits struct {
	HourlyCap   int
	DailyCap    int
	MinInterval time.Duration
}

func (t Tier) Limits() Limits {
	switch t {
	case TierFresh:
		return Limits{HourlyCap: 5, DailyCap: 15, MinInterval: 180 * time.Second}
	case TierWarming:
		return Limits{HourlyCap: 15, DailyCap: 40, MinInterval: 90 * time.Second}
	default:
		return Limits{HourlyCap: 30, DailyCap: 150, MinInterval: 30 * time.Second}
	}
}

// Scope names which gate denied a send.
type Scope string

const (
	ScopeHourly   Scope = "HOURLY"
	ScopeDaily    Scope = "DAILY"
	ScopeInterval Scope = "INTERVAL"
)

// Decision is the result of CheckAndReserve.
type Decision struct {
	Allow bool
	Wait  time.Duration
	Scope Scope
}

// Usage is a point-in-time snapshot for the rate-limit status endpoint.
// In-flight reservations count as used.
type Usage struct {
	Tier        string        `json:"tier"`
	HourlyUsed  int           `json:"hourlyUsed"`
	HourlyCap   int           `json:"hourlyCap"`
	DailyUsed   int           `json:"dailyUsed"`
	DailyCap    int           `json:"dailyCap"`
	MinInterval time.Duration `json:"-"`
	HourlyReset time.Duration `json:"-"`
	DailyReset  time.Duration `json:"-"`
}

type persisted struct {
	Sends    []int64 `json:"sends"` // unix millis, newest last
	LastSend int64   `json:"lastSend"`
}

type Limiter struct {
	mu    sync.Mutex
	clock humanize.Clock
	sim   *humanize.Simulator
	store *state.Store

	tier  Tier
	sends []time.Time // committed sends

	// reserved holds admissions that have not committed yet. Each entry
	// occupies a slot in both windows so concurrent pipelines cannot be
	// admitted against the same remaining capacity.
	reserved []time.Time

	lastSend time.Time // last committed or reserved send
	dirty    bool
}

func NewLimiter(store *state.Store, clock humanize.Clock, sim *humanize.Simulator, accountAgeWeeks int) *Limiter {
	l := &Limiter{
		clock: clock,
		sim:   sim,
		store: store,
		tier:  TierForWeeks(accountAgeWeeks),
	}
	l.load()
	return l
}

func (l *Limiter) load() {
	var p persisted
	ok, err := l.store.Load(stateFile, stateVersion, &p)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load rate-limit state, starting fresh")
		return
	}
	if !ok {
		return
	}
	cutoff := l.clock.Now().Add(-dayWindow)
	for _, ms := range p.Sends {
		t := time.UnixMilli(ms)
		if t.After(cutoff) {
			l.sends = append(l.sends, t)
		}
	}
	if p.LastSend != 0 {
		l.lastSend = time.UnixMilli(p.LastSend)
	}
}

// CheckAndReserve evaluates the gates in order, failing fast on the
// first violation. An allowed call provisionally occupies the slot and
// advances the interval clock, so the caller must pair it with Commit
// after a successful send or Release on any later failure.
func (l *Limiter) CheckAndReserve() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	lim := l.tier.Limits()

	hourly := l.countSince(now.Add(-hourWindow)) + len(l.reserved)
	if hourly >= lim.HourlyCap {
		return Decision{Scope: ScopeHourly, Wait: l.oldestOccupied(now.Add(-hourWindow), now).Add(hourWindow).Sub(now)}
	}

	if len(l.sends)+len(l.reserved) >= lim.DailyCap {
		return Decision{Scope: ScopeDaily, Wait: l.oldestOccupied(now.Add(-dayWindow), now).Add(dayWindow).Sub(now)}
	}

	if !l.lastSend.IsZero() {
		since := now.Sub(l.lastSend)
		if since < lim.MinInterval {
			wait := lim.MinInterval - since + l.sim.HumanDelay(intervalJitterBaseMs, 0.5)
			return Decision{Scope: ScopeInterval, Wait: wait}
		}
	}

	l.reserved = append(l.reserved, now)
	l.lastSend = now
	return Decision{Allow: true}
}

// Commit converts a reservation into a committed send timestamp and
// persists. Call only after the protocol send succeeded.
func (l *Limiter) Commit() {
	l.mu.Lock()
	now := l.clock.Now()
	if len(l.reserved) > 0 {
		l.reserved = l.reserved[1:]
	}
	l.sends = append(l.sends, now)
	l.lastSend = now
	l.prune(now)
	l.dirty = true
	l.mu.Unlock()

	l.persist()
}

// Release returns a reserved slot after a failed send. The interval
// clock is not rolled back: a failed attempt still spaces the next one.
func (l *Limiter) Release() {
	l.mu.Lock()
	if n := len(l.reserved); n > 0 {
		l.reserved = l.reserved[:n-1]
	}
	l.mu.Unlock()
}

// SetAccountAge reselects the tier. Counters are never erased; lowering
// the tier may leave the windows over-limit, which the next check
// rejects naturally.
func (l *Limiter) SetAccountAge(weeks int) Tier {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tier = TierForWeeks(weeks)
	return l.tier
}

func (l *Limiter) Tier() Tier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tier
}

func (l *Limiter) Snapshot() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	lim := l.tier.Limits()

	u := Usage{
		Tier:        l.tier.String(),
		HourlyUsed:  l.countSince(now.Add(-hourWindow)) + len(l.reserved),
		HourlyCap:   lim.HourlyCap,
		DailyUsed:   len(l.sends) + len(l.reserved),
		DailyCap:    lim.DailyCap,
		MinInterval: lim.MinInterval,
	}
	if u.HourlyUsed > 0 {
		u.HourlyReset = l.oldestOccupied(now.Add(-hourWindow), now).Add(hourWindow).Sub(now)
	}
	if u.DailyUsed > 0 {
		u.DailyReset = l.oldestOccupied(now.Add(-dayWindow), now).Add(dayWindow).Sub(now)
	}
	return u
}

// Flush writes pending state; driven by the background scheduler.
func (l *Limiter) Flush() {
	l.mu.Lock()
	dirty := l.dirty
	l.mu.Unlock()
	if dirty {
		l.persist()
	}
}

func (l *Limiter) persist() {
	l.mu.Lock()
	p := persisted{Sends: make([]int64, 0, len(l.sends))}
	for _, t := range l.sends {
		p.Sends = append(p.Sends, t.UnixMilli())
	}
	if !l.lastSend.IsZero() {
		p.LastSend = l.lastSend.UnixMilli()
	}
	l.dirty = false
	l.mu.Unlock()

	if err := l.store.Save(stateFile, stateVersion, p); err != nil {
		log.Warn().Err(err).Msg("Failed to persist rate-limit state")
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
	}
}

// prune drops timestamps older than the daily window. Caller holds l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-dayWindow)
	i := 0
	for i < len(l.sends) && !l.sends[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.sends = append([]time.Time(nil), l.sends[i:]...)
	}
}

func (l *Limiter) countSince(cutoff time.Time) int {
	n := 0
	for _, t := range l.sends {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// oldestOccupied is the oldest timestamp, committed or reserved, inside
// the window. Caller holds l.mu and guarantees at least one slot is
// occupied; fallback is now for safety.
func (l *Limiter) oldestOccupied(cutoff, now time.Time) time.Time {
	for _, t := range l.sends {
		if t.After(cutoff) {
			return t
		}
	}
	if len(l.reserved) > 0 {
		return l.reserved[0]
	}
	return now
}
