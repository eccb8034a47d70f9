// Package idgenerator hands out connection ids. Ids increase monotonically;
// after the counter wraps, ids still held by a live connection are skipped so
// an id is never issued twice while its owner is registered.
package idgenerator

import "sync/atomic"

// InUseFunc reports whether an id is still held by a registered owner.
type InUseFunc func(id uint32) bool

// IdGenerator generates monotonically increasing uint32 ids in a concurrency-safe
// manner. The starting value is set at construction and the first Id() returns
// startValue+1. Zero is never returned by Next, so callers may use it as "no id".
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first id is startValue+1.
//
// Parameters:
//   - startValue: The value to initialize the counter to
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next value of the counter, wrapping at the uint32 limit.
func (l *IdGenerator) Id() uint32 {
	return l.id.Add(1)
}

// Next returns the next id that is neither zero nor reported in use by inUse.
// It gives up after one full lap of the id space.
//
// Parameters:
//   - inUse: Reports ids that must be skipped; nil skips only zero
//
// Returns:
//   - The id and true, or 0 and false when every id is taken
func (l *IdGenerator) Next(inUse InUseFunc) (uint32, bool) {
	for range uint64(1) << 32 {
		id := l.Id()
		if id == 0 || (inUse != nil && inUse(id)) {
			continue
		}

		return id, true
	}

	return 0, false
}

// Last returns the most recently issued counter value.
func (l *IdGenerator) Last() uint32 {
	return l.id.Load()
}
