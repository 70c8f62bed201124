package tracking

import (
	"sync"
)

// shardCount trades memory for contention: mutations of keys in different
// shards never block each other, keys sharing a shard serialize briefly.
const shardCount = 32

type shard struct {
	mu sync.Mutex
	m  map[Key]*Entity
}

// Store holds per-subject state in a lock-striped map.
//
// Callbacks passed to Modify, Upsert and ForEach run while the key's shard is
// locked. They must be short and must not call back into the Store.
type Store struct {
	shards [shardCount]shard
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].m = map[Key]*Entity{}
	}
	return s
}

// shardIndex mixes both key fields with FNV-1a.
func shardIndex(k Key) int {
	const (
		offset = 2166136261
		prime  = 16777619
	)
	h := uint32(offset)
	v := k.UserID
	for i := 0; i < 4; i++ {
		h ^= v & 0xff
		h *= prime
		v >>= 8
	}
	h ^= uint32(k.Mode)
	h *= prime
	return int(h % shardCount)
}

func (s *Store) shardFor(k Key) *shard { return &s.shards[shardIndex(k)] }

// Get returns a copy of the entity for key.
func (s *Store) Get(key Key) (Entity, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		return Entity{}, false
	}
	return e.clone(), true
}

// Modify runs fn on the stored entity with exclusive access. If fn returns
// true the entry is deleted. It reports whether key existed.
func (s *Store) Modify(key Key, fn func(e *Entity) (remove bool)) bool {
	return s.lockKey(key, func(e *Entity, ok bool) bool {
		return ok && fn(e)
	})
}

// lockKey runs fn under the key's shard lock whether or not the key exists.
func (s *Store) lockKey(key Key, fn func(e *Entity, ok bool) (remove bool)) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if fn(e, ok) && ok {
		delete(sh.m, key)
	}
	return ok
}

// Upsert runs fn on the entity for key, creating it from create() first if absent.
func (s *Store) Upsert(key Key, create func() Entity, fn func(e *Entity, created bool)) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		ne := create()
		e = &ne
		sh.m[key] = e
	}
	if fn != nil {
		fn(e, !ok)
	}
}

func (s *Store) Remove(key Key) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.m[key]; !ok {
		return false
	}
	delete(sh.m, key)
	return true
}

// ForEach visits entries one shard at a time until fn returns false.
//
// The scan is weakly consistent: entries inserted or removed in shards that
// are not currently locked may or may not be visited. fn must not mutate or
// retain e.
func (s *Store) ForEach(fn func(key Key, e *Entity) bool) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.m {
			if !fn(k, e) {
				sh.mu.Unlock()
				return
			}
		}
		sh.mu.Unlock()
	}
}

func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}
