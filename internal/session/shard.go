package session

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 32

type shard[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

// shardedMap spreads keys over independently locked shards so that unrelated
// identities never contend, while all mutations of one key are serialized.
type shardedMap[V any] struct {
	shards []*shard[V]
}

func newShardedMap[V any](n int) *shardedMap[V] {
	if n <= 0 {
		n = defaultShards
	}
	s := &shardedMap[V]{shards: make([]*shard[V], n)}
	for i := range s.shards {
		s.shards[i] = &shard[V]{m: make(map[string]V)}
	}
	return s
}

func (s *shardedMap[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// with runs fn holding the lock of key's shard.
func (s *shardedMap[V]) with(key string, fn func(m map[string]V)) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fn(sh.m)
}

// each runs fn on every shard in turn, one lock at a time.
func (s *shardedMap[V]) each(fn func(m map[string]V)) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		fn(sh.m)
		sh.mu.Unlock()
	}
}
