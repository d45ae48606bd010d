package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics of the sync service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	storeOps        *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	backendErrors   *prometheus.CounterVec
	realtimeEvents  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	schemaFallbacks *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		storeOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atas_store_ops_total",
				Help: "Store actions by entity, operation and result.",
			},
			[]string{"entity", "op", "result"},
		),
		backendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "atas_backend_duration_seconds",
				Help:    "Duration of backend table requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"table", "method"},
		),
		backendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atas_backend_errors_total",
				Help: "Total failed backend table requests.",
			},
			[]string{"table"},
		),
		realtimeEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atas_realtime_events_total",
				Help: "Realtime change events applied to stores.",
			},
			[]string{"table", "type"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atas_cache_hits_total",
				Help: "Total detail cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atas_cache_misses_total",
				Help: "Total detail cache misses.",
			},
			[]string{"cache"},
		),
		schemaFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atas_schema_fallbacks_total",
				Help: "Operations retried against a legacy column name.",
			},
			[]string{"table", "column"},
		),
	}
}

// IncrStoreOp counts one store action.
func (m *Metrics) IncrStoreOp(entity, op, result string) {
	m.storeOps.WithLabelValues(entity, op, result).Inc()
}

// RecordBackendDuration records the duration of a backend request.
func (m *Metrics) RecordBackendDuration(table, method string, d time.Duration) {
	m.backendDuration.WithLabelValues(table, method).Observe(d.Seconds())
}

// IncrBackendError increments the backend error counter.
func (m *Metrics) IncrBackendError(table string) {
	m.backendErrors.WithLabelValues(table).Inc()
}

// IncrRealtimeEvent counts one applied change event.
func (m *Metrics) IncrRealtimeEvent(table, eventType string) {
	m.realtimeEvents.WithLabelValues(table, eventType).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrSchemaFallback counts one legacy-column retry.
func (m *Metrics) IncrSchemaFallback(table, column string) {
	m.schemaFallbacks.WithLabelValues(table, column).Inc()
}

// SyncSnapshot is the JSON view served at GET /v1/metrics/sync.
type SyncSnapshot struct {
	StoreOps        map[string]float64 `json:"storeOps"`
	RealtimeEvents  map[string]float64 `json:"realtimeEvents"`
	BackendErrors   map[string]float64 `json:"backendErrors"`
	SchemaFallbacks map[string]float64 `json:"schemaFallbacks"`
	CacheHitRate    float64            `json:"cacheHitRate"`
}

// Snapshot gathers the current counter values, keyed by joined label values.
func (m *Metrics) Snapshot() *SyncSnapshot {
	hits := sum(sumCounters(m.cacheHits))
	misses := sum(sumCounters(m.cacheMisses))
	rate := float64(0)
	if hits+misses > 0 {
		rate = hits / (hits + misses)
	}
	return &SyncSnapshot{
		StoreOps:        sumCounters(m.storeOps),
		RealtimeEvents:  sumCounters(m.realtimeEvents),
		BackendErrors:   sumCounters(m.backendErrors),
		SchemaFallbacks: sumCounters(m.schemaFallbacks),
		CacheHitRate:    rate,
	}
}

// sumCounters reads every series of cv into a map keyed "a/b/c".
func sumCounters(cv *prometheus.CounterVec) map[string]float64 {
	out := make(map[string]float64)
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		pb := &dto.Metric{}
		if err := metric.Write(pb); err != nil || pb.Counter == nil {
			continue
		}
		key := ""
		for i, lp := range pb.GetLabel() {
			if i > 0 {
				key += "/"
			}
			key += lp.GetValue()
		}
		out[key] += pb.Counter.GetValue()
	}
	return out
}

func sum(m map[string]float64) float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}
