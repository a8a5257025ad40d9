// Package state persists small JSON snapshots under a single directory.
// Every file carries a top-level version field; a version mismatch resets
// that file only. Writes are atomic (write to temp file, then rename).
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// After this many consecutive write failures on a file the store stops
// touching disk for it and keeps the data in memory only.
const maxWriteFailures = 2

type envelope struct {
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

type Store struct {
	dir string

	mu         sync.Mutex
	failures   map[string]int
	memoryOnly map[string]bool
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &Store{
		dir:        dir,
		failures:   make(map[string]int),
		memoryOnly: make(map[string]bool),
	}, nil
}

// Load reads the named file into out. It returns false without error when
// the file does not exist or carries an unknown version.
func (s *Store) Load(name string, version int, out interface{}) (bool, error) {
	raw, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Str("file", name).Err(err).Msg("Corrupt state file, resetting")
		return false, nil
	}
	if env.V != version {
		log.Warn().Str("file", name).Int("found", env.V).Int("want", version).
			Msg("Unknown state file version, resetting")
		return false, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return true, nil
}

// Save writes the named file atomically. Persistence failures are non-fatal:
// after maxWriteFailures consecutive failures the file degrades to
// in-memory-only with a logged warning.
func (s *Store) Save(name string, version int, in interface{}) error {
	s.mu.Lock()
	if s.memoryOnly[name] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.write(name, version, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures[name]++
		if s.failures[name] >= maxWriteFailures {
			s.memoryOnly[name] = true
			log.Warn().Str("file", name).Err(err).
				Msg("Repeated persistence failures, degrading to in-memory only")
		}
		return err
	}
	s.failures[name] = 0
	return nil
}

func (s *Store) write(name string, version int, in interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	raw, err := json.Marshal(envelope{V: version, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", name, err)
	}

	tmp := s.path(name) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}
