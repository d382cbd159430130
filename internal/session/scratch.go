package session

import (
	"time"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

type scratchItem[V any] struct {
	value   V
	touched time.Time
}

// Scratch is a per-identity TTL map measured from the last write. It backs
// the NLU dialogue history and the reusable payment code.
type Scratch[V any] struct {
	items *shardedMap[scratchItem[V]]
	ttl   time.Duration
	clock domain.Clock
}

func NewScratch[V any](ttl time.Duration, clock domain.Clock) *Scratch[V] {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Scratch[V]{items: newShardedMap[scratchItem[V]](defaultShards), ttl: ttl, clock: clock}
}

func (s *Scratch[V]) Get(id domain.Identity) (V, bool) {
	var (
		item scratchItem[V]
		ok   bool
	)
	now := s.clock.Now()
	s.items.with(string(id), func(m map[string]scratchItem[V]) {
		item, ok = m[string(id)]
	})
	if !ok || s.stale(item, now) {
		var zero V
		return zero, false
	}
	return item.value, true
}

func (s *Scratch[V]) Set(id domain.Identity, v V) {
	now := s.clock.Now()
	s.items.with(string(id), func(m map[string]scratchItem[V]) {
		m[string(id)] = scratchItem[V]{value: v, touched: now}
	})
}

// Update replaces the value with fn's result under the identity's lock.
// A stale value is passed to fn as absent.
func (s *Scratch[V]) Update(id domain.Identity, fn func(cur V, ok bool) V) V {
	var next V
	now := s.clock.Now()
	s.items.with(string(id), func(m map[string]scratchItem[V]) {
		item, ok := m[string(id)]
		if ok && s.stale(item, now) {
			var zero V
			item, ok = scratchItem[V]{value: zero}, false
		}
		next = fn(item.value, ok)
		m[string(id)] = scratchItem[V]{value: next, touched: now}
	})
	return next
}

func (s *Scratch[V]) Delete(id domain.Identity) {
	s.items.with(string(id), func(m map[string]scratchItem[V]) {
		delete(m, string(id))
	})
}

func (s *Scratch[V]) Sweep(now time.Time) int {
	n := 0
	s.items.each(func(m map[string]scratchItem[V]) {
		for k, item := range m {
			if s.stale(item, now) {
				delete(m, k)
				n++
			}
		}
	})
	return n
}

func (s *Scratch[V]) stale(item scratchItem[V], now time.Time) bool {
	return !now.Before(item.touched.Add(s.ttl))
}
