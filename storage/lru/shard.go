// Package lru implements a single, size-bounded LRU cache shard over byte
// string keys and values. A Shard is NOT safe for concurrent use; callers
// either serialize access themselves or use package striped, which wraps
// N shards each behind their own mutex.
package lru

import (
	"github.com/EgorSmi/afina/internal/util"
	"github.com/EgorSmi/afina/metrics"
	"github.com/EgorSmi/afina/storage"
)

// compile-time check: Shard implements storage.Storage.
var _ storage.Storage = (*Shard)(nil)

// Shard is a bounded LRU store. maxSize is the admission budget: the sum
// of len(key)+len(value) across all resident entries never exceeds it.
type Shard struct {
	maxSize int
	used    int

	index map[string]*node
	head  *node // most recently used
	tail  *node // least recently used

	metrics metrics.CacheMetrics

	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

// New creates a Shard with the given byte budget. A nil m disables
// observability (NoopCache is used).
func New(maxSize int, m metrics.CacheMetrics) *Shard {
	if m == nil {
		m = metrics.NoopCache{}
	}
	return &Shard{
		maxSize: maxSize,
		index:   make(map[string]*node),
		metrics: m,
	}
}

// Put inserts key→value, replacing any existing value and promoting the
// entry to MRU. Returns false, leaving the shard unchanged, if the entry
// does not fit within maxSize.
func (s *Shard) Put(key, value []byte) bool {
	if n, ok := s.index[string(key)]; ok {
		return s.replace(n, value)
	}
	return s.insert(key, value)
}

// PutIfAbsent inserts key→value only if key is not already present.
func (s *Shard) PutIfAbsent(key, value []byte) bool {
	if _, ok := s.index[string(key)]; ok {
		return false
	}
	return s.insert(key, value)
}

// Set replaces the value for an existing key, promoting it to MRU.
// Returns false if key is absent.
func (s *Shard) Set(key, value []byte) bool {
	n, ok := s.index[string(key)]
	if !ok {
		return false
	}
	return s.replace(n, value)
}

// Delete removes key if present, freeing its bytes.
func (s *Shard) Delete(key []byte) bool {
	n, ok := s.index[string(key)]
	if !ok {
		return false
	}
	s.unlink(n)
	return true
}

// Get returns a copy of the value for key, promoting the entry to MRU on
// a hit.
func (s *Shard) Get(key []byte) ([]byte, bool) {
	n, ok := s.index[string(key)]
	if !ok {
		s.misses.Add(1)
		s.metrics.Miss()
		return nil, false
	}
	s.moveToFront(n)
	s.hits.Add(1)
	s.metrics.Hit()
	out := make([]byte, len(n.value))
	copy(out, n.value)
	return out, true
}

// Len reports the number of resident entries.
func (s *Shard) Len() int { return len(s.index) }

// Used reports the current byte budget consumption.
func (s *Shard) Used() int { return s.used }

// insert admits a brand new key, evicting LRU victims as needed.
func (s *Shard) insert(key, value []byte) bool {
	need := len(key) + len(value)
	if need > s.maxSize {
		return false
	}
	s.evictToFit(need, nil)

	n := &node{key: string(key), value: append([]byte(nil), value...)}
	s.index[n.key] = n
	s.pushFront(n)
	s.used += need
	s.metrics.Size(len(s.index), int64(s.used))
	return true
}

// replace updates an existing node's value, evicting other entries if the
// new value grows the shard past its budget, and promotes it to MRU.
// Returns false, leaving n untouched, if the new value alone would never
// fit even with every other entry evicted.
func (s *Shard) replace(n *node, value []byte) bool {
	need := len(n.key) + len(value)
	if need > s.maxSize {
		return false
	}
	delta := len(value) - len(n.value)
	if delta > 0 {
		s.evictToFit(delta, n)
	}
	n.value = append([]byte(nil), value...)
	s.used += delta
	s.moveToFront(n)
	s.metrics.Size(len(s.index), int64(s.used))
	return true
}

// evictToFit evicts LRU victims, skipping protect, until admitting
// additional more bytes would not exceed maxSize. The caller is
// responsible for having already verified that the final state fits.
func (s *Shard) evictToFit(additional int, protect *node) {
	for s.used+additional > s.maxSize {
		victim := s.tail
		if victim == protect {
			victim = victim.prev
		}
		if victim == nil {
			return
		}
		s.unlink(victim)
		s.evicts.Add(1)
		s.metrics.Evict(metrics.EvictCapacity)
	}
}

// pushFront inserts a brand new node at the head (MRU position).
func (s *Shard) pushFront(n *node) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// moveToFront promotes an already-linked node to the head.
func (s *Shard) moveToFront(n *node) {
	if n == s.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		s.tail = n.prev
	}
	n.prev = nil
	n.next = s.head
	s.head.prev = n
	s.head = n
}

// unlink detaches a node from the list and the index and frees its bytes.
func (s *Shard) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		s.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	delete(s.index, n.key)
	s.used -= n.size()
}
