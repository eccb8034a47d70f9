// Package safemap provides a type-safe map guarded by a read-write mutex. The
// socket manager keeps its connections in one, keyed by connection id, so that
// stats readers on other goroutines can look entries up while the poll
// goroutine owns every mutation.
package safemap

import "sync"

// SafeMap is a map that is safe for use by multiple goroutines. Len is O(1),
// which lets callers enforce capacity ceilings on every insert.
//
// SafeMap must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewSafeMap returns a new, empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{m: make(map[K]V)}
}

// StoreIfAbsent sets the value for k only if k is not present.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
//
// Returns:
//   - true if v was stored, false if k was already present
func (m *SafeMap[K, V]) StoreIfAbsent(k K, v V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.m[k]; found {
		return false
	}

	m.m[k] = v
	return true
}

// Load returns the value for key k and whether it was present.
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, found := m.m[k]
	return v, found
}

// LoadAndDelete removes k and returns the value it held.
//
// Parameters:
//   - k: The key to remove
//
// Returns:
//   - The removed value, or the zero value of V
//   - true if k was present
func (m *SafeMap[K, V]) LoadAndDelete(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, found := m.m[k]
	if found {
		delete(m.m, k)
	}

	return v, found
}

// Has reports whether key k is present.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, found := m.Load(k)
	return found
}

// Len returns the number of entries.
func (m *SafeMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// Range calls f for each entry over a snapshot taken under the read lock, so
// f may mutate the map. Iteration stops when f returns false.
//
// Parameters:
//   - f: Function called for each entry; return false to stop iteration
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.mu.RLock()
	keys := make([]K, 0, len(m.m))
	values := make([]V, 0, len(m.m))
	for k, v := range m.m {
		keys = append(keys, k)
		values = append(values, v)
	}
	m.mu.RUnlock()

	for i := range keys {
		if !f(keys[i], values[i]) {
			return
		}
	}
}
