// Package orbit implements §4.6: the in-memory orbit_id -> OrbitHandle
// cache, lazy handle creation (host-key derivation, index-store
// row), and refcounted eviction after a configurable linger.
package orbit

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"kepler.host/kepler/index"
)

// ErrTooManyOpenOrbits is returned when Acquire would exceed the manager's
// configured cap (§5 "Backpressure … the orbit manager imposes a max open
// orbits; exceeding … fails fast with resource-exhausted").
var ErrTooManyOpenOrbits = errors.New("orbit: too many open orbits")

// Handle is the live, cached state for one orbit (§4.6).
type Handle struct {
	ID      string
	HostKey ed25519.PrivateKey

	keyLocks *keyMutexSet
}

// Lock serializes concurrent puts to the same key within this orbit
// (§4.7 "Ordering"). Callers must call the returned unlock func.
func (h *Handle) Lock(key string) func() {
	return h.keyLocks.lock(key)
}

type entry struct {
	handle      *Handle
	refcount    int64
	lastRelease time.Time
}

// Manager owns the handle cache described by §4.6/§5.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry

	secret  *Secret
	index   *index.Store
	maxOpen int
	linger  time.Duration
}

func NewManager(secret *Secret, idx *index.Store, maxOpen int, linger time.Duration) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		secret:  secret,
		index:   idx,
		maxOpen: maxOpen,
		linger:  linger,
	}
}

// Acquire returns the handle for orbitID, creating it (and its index row)
// on first use, and bumping its refcount. The caller must invoke the
// returned release func exactly once when done with the handle.
func (m *Manager) Acquire(ctx context.Context, orbitID, controllerDID string) (*Handle, func(), error) {
	m.mu.RLock()
	if e, ok := m.entries[orbitID]; ok {
		atomic.AddInt64(&e.refcount, 1)
		m.mu.RUnlock()
		return e.handle, m.releaseFunc(orbitID), nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check: another goroutine may have created it while we waited for
	// the exclusive lock (creation is serialized per orbit, §4.6).
	if e, ok := m.entries[orbitID]; ok {
		atomic.AddInt64(&e.refcount, 1)
		return e.handle, m.releaseFunc(orbitID), nil
	}

	m.evictStaleLocked()
	if len(m.entries) >= m.maxOpen {
		return nil, nil, ErrTooManyOpenOrbits
	}

	if _, err := m.index.Orbits().GetOrCreate(ctx, orbitID, controllerDID); err != nil {
		return nil, nil, fmt.Errorf("orbit: open index row: %w", err)
	}
	hostKey, err := m.secret.DeriveHostKey(orbitID)
	if err != nil {
		return nil, nil, err
	}

	h := &Handle{ID: orbitID, HostKey: hostKey, keyLocks: newKeyMutexSet()}
	m.entries[orbitID] = &entry{handle: h, refcount: 1}
	return h, m.releaseFunc(orbitID), nil
}

func (m *Manager) releaseFunc(orbitID string) func() {
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		e, ok := m.entries[orbitID]
		if !ok {
			return
		}
		if atomic.AddInt64(&e.refcount, -1) <= 0 {
			e.lastRelease = time.Now()
		}
	}
}

// evictStaleLocked drops entries with refcount <= 0 whose linger has
// elapsed. Callers must hold m.mu for writing.
func (m *Manager) evictStaleLocked() {
	now := time.Now()
	for id, e := range m.entries {
		if atomic.LoadInt64(&e.refcount) <= 0 && now.Sub(e.lastRelease) >= m.linger {
			delete(m.entries, id)
		}
	}
}

// keyMutexSet grants per-key locks within an orbit, created lazily.
type keyMutexSet struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyMutexSet() *keyMutexSet {
	return &keyMutexSet{locks: make(map[string]*sync.Mutex)}
}

func (s *keyMutexSet) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
