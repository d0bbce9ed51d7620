package cachetable

// metrics.go is the "status sink" design note from spec §9: engine-status
// counters are process-wide and abstracted behind a single sink interface
// with atomic increment operations, so tests can install a stub for
// deterministic assertions. Modeled directly on the teacher's
// pkg/metrics.go (noop vs Prometheus-backed sink), extended with the
// gauges/counters this spec's checkpoint and cleaner paths need.
//
// © 2025 cachetable authors. MIT License.

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// prometheusRegisterer is the subset of *prometheus.Registry that
// WithMetrics needs, kept narrow so tests can supply a stub registry
// without importing the real client.
type prometheusRegisterer interface {
	MustRegister(...prometheus.Collector)
}

// metricsSink is the internal interface abstracting the concrete metrics
// backend. Cachetable, the evictor, the cleaner and the checkpointer only
// ever see this interface.
type metricsSink interface {
	incHit()
	incMiss()
	incEviction(reason string)
	incCleanerPick()
	incCheckpoint()
	observeCheckpointDuration(d time.Duration)
	setSizeCurrent(v int64)
	setSizeEvicting(v int64)
	setBJMInFlight(cf string, v int)
}

/* ---------------- No-op implementation ---------------- */

type noopMetrics struct{}

func (noopMetrics) incHit()                                 {}
func (noopMetrics) incMiss()                                {}
func (noopMetrics) incEviction(string)                      {}
func (noopMetrics) incCleanerPick()                         {}
func (noopMetrics) incCheckpoint()                          {}
func (noopMetrics) observeCheckpointDuration(time.Duration) {}
func (noopMetrics) setSizeCurrent(int64)                    {}
func (noopMetrics) setSizeEvicting(int64)                   {}
func (noopMetrics) setBJMInFlight(string, int)              {}

/* ---------------- Prometheus implementation ---------------- */

type promMetrics struct {
	hits, misses        prometheus.Counter
	evictions            *prometheus.CounterVec
	cleanerPicks         prometheus.Counter
	checkpoints          prometheus.Counter
	checkpointDuration   prometheus.Histogram
	sizeCurrent          prometheus.Gauge
	sizeEvicting         prometheus.Gauge
	bjmInFlight          *prometheus.GaugeVec
}

func newPromMetrics(reg prometheusRegisterer) *promMetrics {
	m := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachetable", Name: "hits_total", Help: "Number of get_and_pin hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachetable", Name: "misses_total", Help: "Number of get_and_pin misses (fetch invoked).",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachetable", Name: "evictions_total", Help: "Number of pairs evicted, by reason.",
		}, []string{"reason"}),
		cleanerPicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachetable", Name: "cleaner_picks_total", Help: "Number of pairs the cleaner invoked its callback on.",
		}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachetable", Name: "checkpoints_total", Help: "Number of begun checkpoints.",
		}),
		checkpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cachetable", Name: "checkpoint_duration_seconds", Help: "Wall-clock duration of end_checkpoint.",
			Buckets: prometheus.DefBuckets,
		}),
		sizeCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachetable", Name: "size_current_bytes", Help: "Best-effort sum of all pair sizes plus clones and reservations.",
		}),
		sizeEvicting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachetable", Name: "size_evicting_bytes", Help: "Bytes of in-flight evictions.",
		}),
		bjmInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cachetable", Name: "bjm_in_flight", Help: "In-flight background jobs, per cachefile.",
		}, []string{"cachefile"}),
	}
	reg.MustRegister(m.hits, m.misses, m.evictions, m.cleanerPicks, m.checkpoints,
		m.checkpointDuration, m.sizeCurrent, m.sizeEvicting, m.bjmInFlight)
	return m
}

func (m *promMetrics) incHit()  { m.hits.Inc() }
func (m *promMetrics) incMiss() { m.misses.Inc() }
func (m *promMetrics) incEviction(reason string) {
	m.evictions.WithLabelValues(reason).Inc()
}
func (m *promMetrics) incCleanerPick() { m.cleanerPicks.Inc() }
func (m *promMetrics) incCheckpoint()  { m.checkpoints.Inc() }
func (m *promMetrics) observeCheckpointDuration(d time.Duration) {
	m.checkpointDuration.Observe(d.Seconds())
}
func (m *promMetrics) setSizeCurrent(v int64)  { m.sizeCurrent.Set(float64(v)) }
func (m *promMetrics) setSizeEvicting(v int64) { m.sizeEvicting.Set(float64(v)) }
func (m *promMetrics) setBJMInFlight(cf string, v int) {
	m.bjmInFlight.WithLabelValues(cf).Set(float64(v))
}
