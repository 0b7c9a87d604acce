// Package cache holds served file content in a fixed-capacity LRU store.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/tollgate/tollgate/internal/metrics"
)

// Key is the fingerprint of a normalized request path.
type Key [16]byte

// Fingerprint derives the cache key for a normalized request path.
//
// Distinct paths may collide. Entries carry their path so callers can
// reject a hit whose path differs from the one requested.
func Fingerprint(path string) Key {
	return Key(xxh3.HashString128(path).Bytes())
}

// Entry is a cached resource. Payload must not be modified once stored;
// it is shared with every reader.
type Entry struct {
	Path        string
	ContentType string
	Payload     []byte
	ModTime     time.Time
}

// Stats is a snapshot of store counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type item struct {
	key   Key
	entry Entry
}

// Store is a concurrency-safe LRU map. The front of the list is the most
// recently used entry.
type Store struct {
	capacity int

	mu    sync.Mutex
	items map[Key]*list.Element
	order *list.List
	stats Stats
}

// New creates a store holding at most capacity entries.
func New(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		capacity: capacity,
		items:    make(map[Key]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the entry for key and promotes it to most recently used.
func (s *Store) Get(key Key) (Entry, bool) {
	return s.GetIf(key, nil)
}

// GetIf is Get for an entry that must also satisfy accept. A rejected entry
// counts as a miss and keeps its recency position. accept runs under the
// store lock and must not call back into the store.
func (s *Store) GetIf(key Key, accept func(Entry) bool) (Entry, bool) {
	s.mu.Lock()
	elem, ok := s.items[key]
	if ok && accept != nil && !accept(elem.Value.(*item).entry) {
		ok = false
	}
	if !ok {
		s.stats.Misses++
		s.mu.Unlock()
		metrics.RecordCacheLookup(false)
		return Entry{}, false
	}
	s.order.MoveToFront(elem)
	s.stats.Hits++
	entry := elem.Value.(*item).entry
	s.mu.Unlock()

	metrics.RecordCacheLookup(true)
	return entry, true
}

// Discard removes the entry under key if it was populated from path. An
// entry for a colliding path is left alone.
func (s *Store) Discard(key Key, path string) bool {
	s.mu.Lock()
	elem, ok := s.items[key]
	if !ok || elem.Value.(*item).entry.Path != path {
		s.mu.Unlock()
		return false
	}
	s.order.Remove(elem)
	delete(s.items, key)
	size := s.order.Len()
	s.mu.Unlock()

	metrics.SetCacheEntries(size)
	return true
}

// Put stores entry under key as the most recently used entry. When the
// store is full the least recently used entry is evicted first.
func (s *Store) Put(key Key, entry Entry) {
	s.mu.Lock()
	if elem, ok := s.items[key]; ok {
		elem.Value.(*item).entry = entry
		s.order.MoveToFront(elem)
		size := s.order.Len()
		s.mu.Unlock()
		metrics.SetCacheEntries(size)
		return
	}

	evicted := false
	if s.order.Len() >= s.capacity {
		if oldest := s.order.Back(); oldest != nil {
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*item).key)
			s.stats.Evictions++
			evicted = true
		}
	}
	s.items[key] = s.order.PushFront(&item{key: key, entry: entry})
	size := s.order.Len()
	s.mu.Unlock()

	if evicted {
		metrics.RecordCacheEviction()
	}
	metrics.SetCacheEntries(size)
}

// Contains reports whether key is cached without touching recency.
func (s *Store) Contains(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Capacity returns the maximum number of entries.
func (s *Store) Capacity() int {
	return s.capacity
}

// Stats returns a snapshot of the hit, miss and eviction counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
