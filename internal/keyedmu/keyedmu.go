// Package keyedmu provides a map of per-key mutexes so independent plugins
// can be operated on concurrently while operations on the same plugin id
// serialize, matching the lock ordering store-client -> permission-broker ->
// lifecycle(per-plugin) -> loader -> sandbox-governor.
package keyedmu

import "sync"

// Map lazily creates and caches one *sync.Mutex per key. The number of
// distinct keys is bounded by the number of installed plugins, so entries
// are never evicted.
type Map struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an empty Map ready for use.
func New() *Map {
	return &Map{locks: make(map[string]*sync.Mutex)}
}

func (m *Map) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Lock acquires the mutex for key, blocking until it is available.
func (m *Map) Lock(key string) {
	m.lockFor(key).Lock()
}

// Unlock releases the mutex for key. The caller must hold it.
func (m *Map) Unlock(key string) {
	m.lockFor(key).Unlock()
}

// WithLock runs fn while holding key's mutex.
func (m *Map) WithLock(key string, fn func()) {
	m.Lock(key)
	defer m.Unlock(key)
	fn()
}
