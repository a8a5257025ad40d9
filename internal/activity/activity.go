// Package activity keeps symmetric sent/received counters and samples
// response times, exposing the response-ratio signal the risk scoring
// and status endpoints consume.
package activity

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/humanize"
	"github.com/ardiansr/wa-bridge/internal/state"
)

const (
	stateFile    = "activity"
	stateVersion = 1

	maxResponseSamples = 50
)

type persisted struct {
	Sent     int64   `json:"sent"`
	Received int64   `json:"received"`
	Samples  []int64 `json:"samples"` // response times, millis
}

// Snapshot is the tracker's externally visible state.
type Snapshot struct {
	Sent            int64         `json:"sent"`
	Received        int64         `json:"received"`
	ResponseRatio   float64       `json:"responseRatio"`
	AvgResponseTime time.Duration `json:"-"`
}

type Tracker struct {
	mu    sync.Mutex
	clock humanize.Clock
	store *state.Store

	sent     int64
	received int64
	samples  []time.Duration

	lastInbound time.Time
	dirty       bool
}

func NewTracker(store *state.Store, clock humanize.Clock) *Tracker {
	t := &Tracker{clock: clock, store: store}
	var p persisted
	ok, err := store.Load(stateFile, stateVersion, &p)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load activity state, starting fresh")
	} else if ok {
		t.sent = p.Sent
		t.received = p.Received
		for _, ms := range p.Samples {
			t.samples = append(t.samples, time.Duration(ms)*time.Millisecond)
		}
	}
	return t
}

// RecordSent counts an outbound message. If an inbound message is
// pending a reply, the gap becomes a response-time sample.
func (t *Tracker) RecordSent() {
	t.mu.Lock()
	t.sent++
	if !t.lastInbound.IsZero() {
		t.addSample(t.clock.Now().Sub(t.lastInbound))
		t.lastInbound = time.Time{}
	}
	t.dirty = true
	t.mu.Unlock()
}

// RecordReceived counts an inbound message and starts the response timer.
func (t *Tracker) RecordReceived() {
	t.mu.Lock()
	t.received++
	t.lastInbound = t.clock.Now()
	t.dirty = true
	t.mu.Unlock()
}

// Snapshot returns current counters. The response ratio is
// received/sent; a pure broadcaster trends toward zero, a conversational
// account toward 1 or above.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{Sent: t.sent, Received: t.received}
	if t.sent > 0 {
		s.ResponseRatio = float64(t.received) / float64(t.sent)
	}
	if len(t.samples) > 0 {
		var total time.Duration
		for _, d := range t.samples {
			total += d
		}
		s.AvgResponseTime = total / time.Duration(len(t.samples))
	}
	return s
}

func (t *Tracker) Flush() {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	p := persisted{Sent: t.sent, Received: t.received}
	for _, d := range t.samples {
		p.Samples = append(p.Samples, d.Milliseconds())
	}
	t.dirty = false
	t.mu.Unlock()

	if err := t.store.Save(stateFile, stateVersion, p); err != nil {
		log.Warn().Err(err).Msg("Failed to persist activity state")
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
	}
}

// addSample appends capped at maxResponseSamples. Caller holds t.mu.
func (t *Tracker) addSample(d time.Duration) {
	t.samples = append(t.samples, d)
	if len(t.samples) > maxResponseSamples {
		t.samples = t.samples[len(t.samples)-maxResponseSamples:]
	}
}
