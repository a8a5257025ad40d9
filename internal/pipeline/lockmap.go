package pipeline

import (
	"context"
	"sync"
)

// lockMap provides cancellable per-jid mutual exclusion. Locks are
// channel-based so waiters can give up when their context expires.
// Entries are reference-counted and evicted once the last holder or
// waiter releases, so the map does not grow with recipient cardinality.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newLockMap() *lockMap {
	return &lockMap{locks: make(map[string]*lockEntry)}
}

func (m *lockMap) lock(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.release(key, e)
		return ctx.Err()
	}
}

func (m *lockMap) unlock(key string) {
	m.mu.Lock()
	e := m.locks[key]
	m.mu.Unlock()
	if e == nil {
		return
	}
	<-e.ch
	m.release(key, e)
}

func (m *lockMap) release(key string, e *lockEntry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}
