// Package decaymap implements an in-memory hashmap whose entries decay
// after a per-entry expiry. Expired entries are treated as absent on read
// and physically removed by Cleanup, which callers run on a timer.
package decaymap

import (
	"sync"
	"time"
)

// Zilch returns the zero value of any type.
func Zilch[T any]() T {
	var zero T
	return zero
}

type entry[V any] struct {
	value  V
	expiry time.Time
}

// Impl is a TTL hashmap safe for concurrent use.
type Impl[K comparable, V any] struct {
	data map[K]entry[V]
	lock sync.RWMutex
	now  func() time.Time
}

func New[K comparable, V any]() *Impl[K, V] {
	return &Impl[K, V]{
		data: map[K]entry[V]{},
		now:  time.Now,
	}
}

// Get fetches a value by key. Expired entries are reported as absent and
// lazily deleted.
func (m *Impl[K, V]) Get(key K) (V, bool) {
	m.lock.RLock()
	e, ok := m.data[key]
	m.lock.RUnlock()

	if !ok {
		return Zilch[V](), false
	}

	if m.now().After(e.expiry) {
		m.Delete(key)
		return Zilch[V](), false
	}

	return e.value, true
}

// Set stores a value under key for the given ttl, replacing any previous
// value and expiry.
func (m *Impl[K, V]) Set(key K, value V, ttl time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.data[key] = entry[V]{
		value:  value,
		expiry: m.now().Add(ttl),
	}
}

// Delete removes a key and reports whether it was present.
func (m *Impl[K, V]) Delete(key K) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	_, ok := m.data[key]
	delete(m.data, key)
	return ok
}

// Update mutates the value for key under the map's write lock and stores
// the result with the given ttl. The update function receives the current
// value (or the zero value if key is absent or expired) and whether the
// key was present. This is the single critical section backing
// check-then-increment callers like the rate limiter.
func (m *Impl[K, V]) Update(key K, ttl time.Duration, fn func(V, bool) V) V {
	m.lock.Lock()
	defer m.lock.Unlock()

	e, ok := m.data[key]
	if ok && m.now().After(e.expiry) {
		ok = false
	}

	var cur V
	if ok {
		cur = e.value
	}

	next := fn(cur, ok)
	m.data[key] = entry[V]{
		value:  next,
		expiry: m.now().Add(ttl),
	}
	return next
}

// Len reports the number of entries, including not-yet-collected expired
// ones.
func (m *Impl[K, V]) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.data)
}

// Cleanup removes every expired entry.
func (m *Impl[K, V]) Cleanup() {
	now := m.now()

	m.lock.Lock()
	defer m.lock.Unlock()

	for key, e := range m.data {
		if now.After(e.expiry) {
			delete(m.data, key)
		}
	}
}
