// Package warmup throttles messaging to recently contacted recipients.
// A fresh conversation partner gets a small per-day budget that grows as
// the contact ages, independent of the global rate limits.
package warmup

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/humanize"
	"github.com/ardiansr/wa-bridge/internal/state"
)

const (
	stateFile    = "contacts"
	stateVersion = 1

	window = 24 * time.Hour

	newAge     = 72 * time.Hour
	warmingAge = 168 * time.Hour

	newCeiling     = 3
	warmingCeiling = 10
)

// Status classifies a contact by the age of the first message to them.
type Status string

const (
	StatusNew     Status = "NEW"
	StatusWarming Status = "WARMING"
	StatusWarmed  Status = "WARMED"
)

type contact struct {
	FirstSeen int64   `json:"firstSeen"` // unix millis
	TotalSent int     `json:"totalSent"`
	Window    []int64 `json:"window"` // send times inside the sliding 24h window
}

// Verdict is the result of MayMessage.
type Verdict struct {
	Allow           bool
	Status          Status
	PerDayRemaining int // -1 when unlimited
}

// Summary aggregates the registry for the status endpoint.
type Summary struct {
	Total   int `json:"total"`
	New     int `json:"new"`
	Warming int `json:"warming"`
	Warmed  int `json:"warmed"`
}

type Registry struct {
	mu       sync.Mutex
	clock    humanize.Clock
	store    *state.Store
	contacts map[string]*contact
	dirty    bool
}

func NewRegistry(store *state.Store, clock humanize.Clock) *Registry {
	r := &Registry{
		clock:    clock,
		store:    store,
		contacts: make(map[string]*contact),
	}
	var p map[string]*contact
	ok, err := r.store.Load(stateFile, stateVersion, &p)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load contact registry, starting fresh")
	} else if ok {
		r.contacts = p
	}
	return r
}

// MayMessage reports whether jid may receive another message today.
// Unknown recipients are NEW with the full NEW budget remaining.
func (r *Registry) MayMessage(jid string) Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	c, exists := r.contacts[jid]
	if !exists {
		return Verdict{Allow: true, Status: StatusNew, PerDayRemaining: newCeiling}
	}

	status := r.status(c, now)
	if status == StatusWarmed {
		return Verdict{Allow: true, Status: status, PerDayRemaining: -1}
	}

	ceiling := newCeiling
	if status == StatusWarming {
		ceiling = warmingCeiling
	}

	used := pruneWindow(c, now)
	remaining := ceiling - used
	if remaining <= 0 {
		return Verdict{Status: status, PerDayRemaining: 0}
	}
	return Verdict{Allow: true, Status: status, PerDayRemaining: remaining}
}

// RecordSend marks a successful send to jid, setting firstSeen on first
// contact.
func (r *Registry) RecordSend(jid string) {
	r.mu.Lock()
	now := r.clock.Now()
	c, exists := r.contacts[jid]
	if !exists {
		c = &contact{FirstSeen: now.UnixMilli()}
		r.contacts[jid] = c
	}
	pruneWindow(c, now)
	c.TotalSent++
	c.Window = append(c.Window, now.UnixMilli())
	r.dirty = true
	r.mu.Unlock()

	r.persist()
}

func (r *Registry) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	s := Summary{Total: len(r.contacts)}
	for _, c := range r.contacts {
		switch r.status(c, now) {
		case StatusNew:
			s.New++
		case StatusWarming:
			s.Warming++
		default:
			s.Warmed++
		}
	}
	return s
}

func (r *Registry) Flush() {
	r.mu.Lock()
	dirty := r.dirty
	r.mu.Unlock()
	if dirty {
		r.persist()
	}
}

func (r *Registry) persist() {
	r.mu.Lock()
	snapshot := make(map[string]*contact, len(r.contacts))
	for jid, c := range r.contacts {
		cp := *c
		cp.Window = append([]int64(nil), c.Window...)
		snapshot[jid] = &cp
	}
	r.dirty = false
	r.mu.Unlock()

	if err := r.store.Save(stateFile, stateVersion, snapshot); err != nil {
		log.Warn().Err(err).Msg("Failed to persist contact registry")
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
	}
}

func (r *Registry) status(c *contact, now time.Time) Status {
	age := now.Sub(time.UnixMilli(c.FirstSeen))
	switch {
	case age < newAge:
		return StatusNew
	case age < warmingAge:
		return StatusWarming
	default:
		return StatusWarmed
	}
}

// pruneWindow drops window entries older than 24h and returns the count
// remaining.
func pruneWindow(c *contact, now time.Time) int {
	cutoff := now.Add(-window).UnixMilli()
	kept := c.Window[:0]
	for _, ms := range c.Window {
		if ms > cutoff {
			kept = append(kept, ms)
		}
	}
	c.Window = kept
	return len(c.Window)
}
