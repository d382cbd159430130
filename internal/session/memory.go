package session

import (
	"context"
	"time"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

// EvictFunc observes entries dropped because their TTL elapsed.
type EvictFunc func(id domain.Identity, e Entry)

// MemoryStore is a process-local Store. Expired entries are invisible as soon
// as their TTL elapses and are physically removed by Sweep.
type MemoryStore struct {
	entries *shardedMap[Entry]
	policy  Policy
	clock   domain.Clock
	onEvict EvictFunc
}

func NewMemoryStore(policy Policy, clock domain.Clock, onEvict EvictFunc) *MemoryStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if policy == nil {
		policy = DefaultPolicy(DefaultConfirmationTTL)
	}
	return &MemoryStore{
		entries: newShardedMap[Entry](defaultShards),
		policy:  policy,
		clock:   clock,
		onEvict: onEvict,
	}
}

func (s *MemoryStore) Put(_ context.Context, id domain.Identity, p Payload) (Entry, error) {
	e := Entry{Kind: p.Kind(), Payload: p, CreatedAt: s.clock.Now()}
	s.entries.with(string(id), func(m map[string]Entry) {
		m[string(id)] = e
	})
	return e, nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.Identity) (Entry, bool, error) {
	var (
		e    Entry
		live bool
	)
	now := s.clock.Now()
	s.entries.with(string(id), func(m map[string]Entry) {
		e, live = m[string(id)]
		if live && s.policy.expired(e, now) {
			live = false
		}
	})
	if !live {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *MemoryStore) Remove(_ context.Context, id domain.Identity) error {
	s.entries.with(string(id), func(m map[string]Entry) {
		delete(m, string(id))
	})
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id domain.Identity, fn UpdateFunc) error {
	var err error
	key := string(id)
	now := s.clock.Now()
	s.entries.with(key, func(m map[string]Entry) {
		cur, live := m[key]
		if live && s.policy.expired(cur, now) {
			cur, live = Entry{}, false
		}

		var change Change
		change, err = fn(cur, live)
		if err != nil {
			return
		}
		switch change.op {
		case opDelete:
			delete(m, key)
		case opReplace:
			m[key] = Entry{Kind: change.payload.Kind(), Payload: change.payload, CreatedAt: now}
		}
	})
	return err
}

// Sweep removes entries older than their kind's TTL and reports how many.
func (s *MemoryStore) Sweep(now time.Time) int {
	type evicted struct {
		id domain.Identity
		e  Entry
	}
	var out []evicted
	s.entries.each(func(m map[string]Entry) {
		for k, e := range m {
			if s.policy.expired(e, now) {
				delete(m, k)
				out = append(out, evicted{id: domain.Identity(k), e: e})
			}
		}
	})
	if s.onEvict != nil {
		for _, ev := range out {
			s.onEvict(ev.id, ev.e)
		}
	}
	return len(out)
}
