package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Keyed is any value the index can cache.
type Keyed interface {
	EntityID() string
}

// KeyExtractor returns the secondary-key values an entity belongs to under
// one named index, e.g. a doctor's hospital affiliations.
type KeyExtractor[T Keyed] func(T) []string

type entry[T Keyed] struct {
	value     T
	fetchedAt time.Time
}

type shard[T Keyed] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
}

// EntityIndex caches one entity type by primary key with declared secondary
// indices and a bounded-staleness TTL. Reads never block: a stale entry is
// returned as-is and a single background refresh is scheduled through the
// refresh hook. Entries are sharded by id hash so unrelated writes do not
// serialize on one lock.
type EntityIndex[T Keyed] struct {
	ttl    time.Duration
	now    func() time.Time
	shards [shardCount]*shard[T]

	extractors map[string]KeyExtractor[T]

	secMu     sync.RWMutex
	secondary map[string]map[string]*idSet

	refreshMu sync.Mutex
	inflight  map[string]struct{}
	refresh   func(id string)
}

func NewEntityIndex[T Keyed](ttl time.Duration) *EntityIndex[T] {
	ix := &EntityIndex[T]{
		ttl:        ttl,
		now:        time.Now,
		extractors: make(map[string]KeyExtractor[T]),
		secondary:  make(map[string]map[string]*idSet),
		inflight:   make(map[string]struct{}),
	}
	for i := range ix.shards {
		ix.shards[i] = &shard[T]{entries: make(map[string]entry[T])}
	}
	return ix
}

// AddSecondaryIndex declares a named secondary index. Must be called before
// the index receives traffic.
func (ix *EntityIndex[T]) AddSecondaryIndex(name string, fn KeyExtractor[T]) {
	ix.extractors[name] = fn
	ix.secondary[name] = make(map[string]*idSet)
}

// SetRefreshHook installs the function invoked asynchronously when a stale
// entry is read. At most one refresh per id is in flight at a time. The hook
// owns retry and backoff; the index only deduplicates.
func (ix *EntityIndex[T]) SetRefreshHook(fn func(id string)) {
	ix.refresh = fn
}

func (ix *EntityIndex[T]) shardFor(id string) *shard[T] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return ix.shards[h.Sum32()%shardCount]
}

// Put inserts or overwrites an entity and rebuilds the secondary-index
// buckets its previous and new secondary keys reference.
func (ix *EntityIndex[T]) Put(v T) {
	id := v.EntityID()
	sh := ix.shardFor(id)

	sh.mu.Lock()
	old, existed := sh.entries[id]
	sh.entries[id] = entry[T]{value: v, fetchedAt: ix.now()}

	ix.secMu.Lock()
	for name, extract := range ix.extractors {
		buckets := ix.secondary[name]
		if existed {
			for _, key := range extract(old.value) {
				if set, ok := buckets[key]; ok {
					set.remove(id)
					if set.empty() {
						delete(buckets, key)
					}
				}
			}
		}
		for _, key := range extract(v) {
			set, ok := buckets[key]
			if !ok {
				set = newIDSet()
				buckets[key] = set
			}
			set.add(id)
		}
	}
	ix.secMu.Unlock()
	sh.mu.Unlock()
}

// GetByID returns the cached entity if present. A stale hit still returns
// the cached value immediately and schedules one asynchronous refresh.
func (ix *EntityIndex[T]) GetByID(id string) (T, bool) {
	sh := ix.shardFor(id)

	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()

	if !ok {
		var zero T
		return zero, false
	}

	if ix.ttl > 0 && ix.now().Sub(e.fetchedAt) > ix.ttl {
		ix.scheduleRefresh(id)
	}

	return e.value, true
}

// GetBySecondaryKey returns the ids in the named index bucket in insertion
// order. Unknown indexes and empty buckets yield an empty slice.
func (ix *EntityIndex[T]) GetBySecondaryKey(index, key string) []string {
	ix.secMu.RLock()
	defer ix.secMu.RUnlock()

	buckets, ok := ix.secondary[index]
	if !ok {
		return nil
	}
	set, ok := buckets[key]
	if !ok {
		return nil
	}
	return set.values()
}

// Invalidate removes the entity and every secondary-index reference to it.
func (ix *EntityIndex[T]) Invalidate(id string) {
	sh := ix.shardFor(id)

	sh.mu.Lock()
	old, existed := sh.entries[id]
	if !existed {
		sh.mu.Unlock()
		return
	}
	delete(sh.entries, id)

	ix.secMu.Lock()
	for name, extract := range ix.extractors {
		buckets := ix.secondary[name]
		for _, key := range extract(old.value) {
			if set, ok := buckets[key]; ok {
				set.remove(id)
				if set.empty() {
					delete(buckets, key)
				}
			}
		}
	}
	ix.secMu.Unlock()
	sh.mu.Unlock()
}

// InvalidateAll flushes every entry and bucket, used on session teardown.
func (ix *EntityIndex[T]) InvalidateAll() {
	for _, sh := range ix.shards {
		sh.mu.Lock()
	}
	ix.secMu.Lock()

	for _, sh := range ix.shards {
		sh.entries = make(map[string]entry[T])
	}
	for name := range ix.secondary {
		ix.secondary[name] = make(map[string]*idSet)
	}

	ix.secMu.Unlock()
	for _, sh := range ix.shards {
		sh.mu.Unlock()
	}
}

// Len reports the number of cached entities.
func (ix *EntityIndex[T]) Len() int {
	n := 0
	for _, sh := range ix.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

func (ix *EntityIndex[T]) scheduleRefresh(id string) {
	if ix.refresh == nil {
		return
	}

	ix.refreshMu.Lock()
	if _, busy := ix.inflight[id]; busy {
		ix.refreshMu.Unlock()
		return
	}
	ix.inflight[id] = struct{}{}
	ix.refreshMu.Unlock()

	go func() {
		defer func() {
			ix.refreshMu.Lock()
			delete(ix.inflight, id)
			ix.refreshMu.Unlock()
		}()
		ix.refresh(id)
	}()
}

// idSet is an insertion-ordered string set used for secondary buckets.
type idSet struct {
	order  []string
	member map[string]struct{}
}

func newIDSet() *idSet {
	return &idSet{member: make(map[string]struct{})}
}

func (s *idSet) add(id string) {
	if _, ok := s.member[id]; ok {
		return
	}
	s.member[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *idSet) remove(id string) {
	if _, ok := s.member[id]; !ok {
		return
	}
	delete(s.member, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *idSet) empty() bool {
	return len(s.member) == 0
}

func (s *idSet) values() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
