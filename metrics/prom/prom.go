// Package prom adapts package metrics' CacheMetrics and PoolMetrics
// interfaces onto Prometheus counters and gauges.
package prom

import (
	"github.com/EgorSmi/afina/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// CacheAdapter implements metrics.CacheMetrics and exports Prometheus
// counters/gauges. Safe for concurrent use; all Prometheus metric types
// are goroutine-safe.
type CacheAdapter struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	evicts  *prometheus.CounterVec
	sizeEnt prometheus.Gauge
	sizeByt prometheus.Gauge
}

// NewCache constructs a Prometheus cache metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func NewCache(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *CacheAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &CacheAdapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Cache evictions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),
		sizeByt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_bytes",
			Help:        "Total resident bytes",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.sizeEnt, a.sizeByt)
	return a
}

// Hit increments the hit counter.
func (a *CacheAdapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *CacheAdapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *CacheAdapter) Evict(r metrics.EvictReason) {
	a.evicts.WithLabelValues(reason(r)).Inc()
}

// Size updates gauges for the number of entries and total bytes resident.
func (a *CacheAdapter) Size(entries int, usedBytes int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeByt.Set(float64(usedBytes))
}

// reason maps EvictReason to a stable label value.
func reason(r metrics.EvictReason) string {
	switch r {
	case metrics.EvictCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Compile-time check: ensure CacheAdapter implements metrics.CacheMetrics.
var _ metrics.CacheMetrics = (*CacheAdapter)(nil)

// PoolAdapter implements metrics.PoolMetrics, giving prometheus/client_golang
// a second concrete consumer beyond the cache.
type PoolAdapter struct {
	submitted prometheus.Counter
	rejected  prometheus.Counter
	panicked  prometheus.Counter
	workers   prometheus.Gauge
	busy      prometheus.Gauge
	queued    prometheus.Gauge
}

// NewPool constructs a Prometheus pool metrics adapter.
func NewPool(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *PoolAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &PoolAdapter{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "tasks_submitted_total",
			Help: "Tasks accepted by Submit", ConstLabels: constLabels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "tasks_rejected_total",
			Help: "Tasks rejected by Submit (not running, or queue full)", ConstLabels: constLabels,
		}),
		panicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "tasks_panicked_total",
			Help: "Tasks whose execution recovered from a panic", ConstLabels: constLabels,
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "workers",
			Help: "Live worker goroutines", ConstLabels: constLabels,
		}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "workers_busy",
			Help: "Worker goroutines currently executing a task", ConstLabels: constLabels,
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "queue_length",
			Help: "Tasks waiting in the queue", ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.submitted, a.rejected, a.panicked, a.workers, a.busy, a.queued)
	return a
}

func (a *PoolAdapter) TaskSubmitted() { a.submitted.Inc() }
func (a *PoolAdapter) TaskRejected()  { a.rejected.Inc() }
func (a *PoolAdapter) TaskPanicked()  { a.panicked.Inc() }

// Workers updates the gauges for live, busy, and queued counts.
func (a *PoolAdapter) Workers(live, busy, queued int) {
	a.workers.Set(float64(live))
	a.busy.Set(float64(busy))
	a.queued.Set(float64(queued))
}

// Compile-time check: ensure PoolAdapter implements metrics.PoolMetrics.
var _ metrics.PoolMetrics = (*PoolAdapter)(nil)
