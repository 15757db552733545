// Package metrics declares the observability hooks the storage and pool
// packages call into; by default both use a no-op implementation so the
// hooks cost nothing unless a concrete adapter (see metrics/prom) is wired.
package metrics

// EvictReason explains why a cache entry was removed by something other
// than an explicit Delete.
type EvictReason int

const (
	// EvictCapacity means the entry was the LRU victim of a size-budget
	// eviction (the only eviction reason the core cache has; kept as an
	// enum rather than a bool so future reasons can be added without
	// changing the Metrics signature).
	EvictCapacity EvictReason = iota
)

// CacheMetrics receives signals from lru.Shard / striped.Cache.
type CacheMetrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, usedBytes int64)
}

// PoolMetrics receives signals from pool.Pool.
type PoolMetrics interface {
	TaskSubmitted()
	TaskRejected()
	TaskPanicked()
	Workers(live, busy, queued int)
}

// NoopCache is a CacheMetrics implementation that discards every signal.
type NoopCache struct{}

func (NoopCache) Hit()               {}
func (NoopCache) Miss()              {}
func (NoopCache) Evict(EvictReason)  {}
func (NoopCache) Size(int, int64)    {}

// NoopPool is a PoolMetrics implementation that discards every signal.
type NoopPool struct{}

func (NoopPool) TaskSubmitted()        {}
func (NoopPool) TaskRejected()         {}
func (NoopPool) TaskPanicked()         {}
func (NoopPool) Workers(int, int, int) {}
