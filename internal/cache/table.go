// Package cache implements the slabbed LRU hierarchy: a partitioned hash
// table of N power-of-two slabs, each an independent LRU with its own lock,
// as described in spec.md §4.4. MessageCache, RRsetCache and KeyCache are
// all instantiations of the same Table; the infra cache (internal/infra)
// reuses it too.
//
// Grounded on NLnet Labs' slabhash: a slabhash "cannot grow, but gives the
// ability to have multiple locks... multiple LRU lists" (see
// original_source/trunk/util/storage/slabhash.h); slab selection here uses
// the same "shift right this many bits to get an index into the array"
// scheme that file documents.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmhodges/clock"
)

// entry wraps a cached value with its version id and absolute expiry.
//
// A message-cache entry's RRset references are valid only while all
// referenced RRsets remain at their recorded version id (spec.md §3); bumping
// version on every Add lets a reader detect that the underlying data moved
// out from under it.
type entry[V any] struct {
	value   V
	version uint64
	expiry  time.Time
	forever bool
}

func (e *entry[V]) expired(clk clock.Clock) bool {
	if e.forever {
		return false
	}
	return clk.Now().After(e.expiry)
}

// Table is a slabbed LRU keyed by K, holding values of type V.
type Table[K comparable, V any] struct {
	slabs   []*slab[K, V]
	mask    uint64
	shift   uint
	hashFn  func(K) uint64
	clk     clock.Clock
}

type slab[K comparable, V any] struct {
	mu  sync.RWMutex
	lru *lru.Cache[K, *entry[V]]
}

// numSlabs must be a power of two; perSlabCapacity bounds the number of
// entries retained in each slab before LRU eviction kicks in (spec.md §4.4:
// "memory budget is apportioned equally among slabs").
func New[K comparable, V any](numSlabs, perSlabCapacity int, hashFn func(K) uint64, clk clock.Clock) *Table[K, V] {
	if numSlabs <= 0 || numSlabs&(numSlabs-1) != 0 {
		panic("cache: numSlabs must be a power of two")
	}
	t := &Table[K, V]{
		mask:   uint64(numSlabs - 1),
		hashFn: hashFn,
		clk:    clk,
	}
	// slabs are selected by the high bits of the hash, so shift right by
	// the number of low bits not used for slab selection.
	t.shift = 64 - bitsFor(numSlabs)
	t.slabs = make([]*slab[K, V], numSlabs)
	for i := range t.slabs {
		c, err := lru.New[K, *entry[V]](perSlabCapacity)
		if err != nil {
			panic(err) // perSlabCapacity <= 0, a config-error caught earlier
		}
		t.slabs[i] = &slab[K, V]{lru: c}
	}
	return t
}

func bitsFor(n int) uint {
	b := uint(0)
	for (1 << b) < n {
		b++
	}
	return b
}

func (t *Table[K, V]) slabFor(key K) *slab[K, V] {
	h := t.hashFn(key)
	idx := (h >> t.shift) & t.mask
	return t.slabs[idx]
}

// Get returns a copy of the cached value for key if present and unexpired.
// A miss (including an expired entry, which is evicted) returns ok == false.
// No lock is held across any call other than this one (spec.md §4.4).
func (t *Table[K, V]) Get(key K) (value V, version uint64, ok bool) {
	s := t.slabFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, present := s.lru.Get(key)
	if !present {
		return value, 0, false
	}
	if e.expired(t.clk) {
		s.lru.Remove(key)
		return value, 0, false
	}
	return e.value, e.version, true
}

// Add inserts or replaces the value for key, bumping its version id. ttl is
// ignored (the entry never expires by TTL, only by LRU eviction) when forever
// is true; none of the caches in this package passes true.
func (t *Table[K, V]) Add(key K, value V, ttl time.Duration, forever bool) {
	t.put(key, value, ttl, forever, true)
}

// Refresh updates the stored value and TTL for key without bumping its
// version id, for callers (RRsetCache) that want to extend an entry's life
// without invalidating outstanding (key, version) references to unchanged
// content. If key is absent this behaves like Add.
func (t *Table[K, V]) Refresh(key K, value V, ttl time.Duration, forever bool) {
	t.put(key, value, ttl, forever, false)
}

func (t *Table[K, V]) put(key K, value V, ttl time.Duration, forever, bump bool) {
	s := t.slabFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	var version uint64 = 1
	if old, present := s.lru.Peek(key); present {
		version = old.version
		if bump {
			version++
		}
	}
	s.lru.Add(key, &entry[V]{
		value:   value,
		version: version,
		expiry:  t.clk.Now().Add(ttl),
		forever: forever,
	})
}

// Remove evicts key if present.
func (t *Table[K, V]) Remove(key K) {
	s := t.slabFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(key)
}

// Len returns the total number of entries held across all slabs, including
// expired entries that no Get has evicted yet. Intended for metrics/tests;
// approximate under concurrent writers.
func (t *Table[K, V]) Len() int {
	n := 0
	for _, s := range t.slabs {
		s.mu.RLock()
		n += s.lru.Len()
		s.mu.RUnlock()
	}
	return n
}

// Purge evicts every entry in every slab, for the remote-control
// "flush_cache" operation (spec.md §1 "remote-control channel").
func (t *Table[K, V]) Purge() {
	for _, s := range t.slabs {
		s.mu.Lock()
		s.lru.Purge()
		s.mu.Unlock()
	}
}
