// Package fingerprint persists the emulated desktop client identity and
// rotates it on a jittered 24–48h schedule. The active triple is applied
// to the protocol library's device props before pairing.
package fingerprint

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/humanize"
	"github.com/ardiansr/wa-bridge/internal/state"
)

const (
	stateFile    = "fingerprint"
	stateVersion = 1

	rotationMin = 24 * time.Hour
	rotationMax = 48 * time.Hour
)

// Triple is the emulated (OS, browser, version) identity.
type Triple struct {
	OS      string `json:"os"`
	Product string `json:"product"`
	Version string `json:"version"`
}

// legacyTriple is written on first run so existing sessions keep the
// identity they paired with.
var legacyTriple = Triple{OS: "Windows", Product: "Chrome", Version: "110.0"}

// catalog holds plausible desktop client identities. Rotation picks
// uniformly at random excluding the current triple.
var catalog = []Triple{
	{OS: "Windows", Product: "Chrome", Version: "126.0"},
	{OS: "Windows", Product: "Edge", Version: "126.0"},
	{OS: "Windows", Product: "Firefox", Version: "127.0"},
	{OS: "Mac OS", Product: "Chrome", Version: "126.0"},
	{OS: "Mac OS", Product: "Safari", Version: "17.5"},
	{OS: "Linux", Product: "Chrome", Version: "126.0"},
	{OS: "Linux", Product: "Firefox", Version: "127.0"},
}

// Record is the persisted fingerprint state.
type Record struct {
	Triple
	EstablishedAt int64 `json:"establishedAt"` // unix millis
	RotationMs    int64 `json:"rotationMs"`    // window sampled at write time
	RotationCount int   `json:"rotationCount"`
}

type Store struct {
	clock humanize.Clock
	sim   *humanize.Simulator
	st    *state.Store
}

func NewStore(st *state.Store, clock humanize.Clock, sim *humanize.Simulator) *Store {
	return &Store{clock: clock, sim: sim, st: st}
}

// Get returns the active fingerprint, writing the legacy triple on first
// run and rotating in place once the sampled window has elapsed.
func (s *Store) Get() (Record, error) {
	var rec Record
	ok, err := s.st.Load(stateFile, stateVersion, &rec)
	if err != nil {
		return Record{}, err
	}

	now := s.clock.Now()
	if !ok {
		rec = Record{
			Triple:        legacyTriple,
			EstablishedAt: now.UnixMilli(),
			RotationMs:    s.sampleWindow().Milliseconds(),
		}
		if err := s.st.Save(stateFile, stateVersion, rec); err != nil {
			return Record{}, err
		}
		log.Info().Str("os", rec.OS).Str("product", rec.Product).
			Msg("Fingerprint initialized with legacy identity")
		return rec, nil
	}

	age := now.Sub(time.UnixMilli(rec.EstablishedAt))
	if age < time.Duration(rec.RotationMs)*time.Millisecond {
		return rec, nil
	}

	next := s.pickExcluding(rec.Triple)
	rec = Record{
		Triple:        next,
		EstablishedAt: now.UnixMilli(),
		RotationMs:    s.sampleWindow().Milliseconds(),
		RotationCount: rec.RotationCount + 1,
	}
	if err := s.st.Save(stateFile, stateVersion, rec); err != nil {
		return Record{}, err
	}
	log.Info().Str("os", rec.OS).Str("product", rec.Product).
		Int("rotation", rec.RotationCount).Msg("🔁 Fingerprint rotated")
	return rec, nil
}

func (s *Store) sampleWindow() time.Duration {
	spread := rotationMax - rotationMin
	return rotationMin + time.Duration(s.sim.Intn(int(spread)))
}

func (s *Store) pickExcluding(current Triple) Triple {
	var pool []Triple
	for _, t := range catalog {
		if t != current {
			pool = append(pool, t)
		}
	}
	return pool[s.sim.Intn(len(pool))]
}
