// Package observability holds the Prometheus registry and the tracer
// provider shared by the binaries.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pdfforge/internal/dispatch"
	"pdfforge/internal/pool"
)

const namespace = "pdfforge"

// Metrics records dispatcher activity and exposes pool gauges. It implements
// dispatch.Observer.
type Metrics struct {
	registry *prometheus.Registry

	drains        *prometheus.CounterVec
	drainDuration prometheus.Histogram
	drainClaimed  prometheus.Counter
	claimsLost    prometheus.Counter
	jobs          *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	inflight      prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		drains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "drains_total",
			Help:      "Drain passes by result.",
		}, []string{"result"}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "drain_duration_seconds",
			Help:      "Wall time of one drain pass.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 25, 60},
		}),
		drainClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "jobs_claimed_total",
			Help:      "Jobs claimed by drains.",
		}),
		claimsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "claims_lost_total",
			Help:      "Claims that found the job already taken.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "jobs_finished_total",
			Help:      "Processed jobs by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "job_duration_seconds",
			Help:      "Time from claim to final status write.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "drains_inflight",
			Help:      "Drain passes currently running in this process.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.drains, m.drainDuration, m.drainClaimed, m.claimsLost,
		m.jobs, m.jobDuration, m.inflight,
	)
	return m
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StatsSource is satisfied by *pool.Pool.
type StatsSource interface {
	Stats() pool.Stats
}

// ObservePool registers gauges that sample the pool on every scrape.
func (m *Metrics) ObservePool(src StatsSource) {
	gauge := func(name, help string, read func(pool.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(src.Stats())) })
	}
	m.registry.MustRegister(
		gauge("instances", "Live engine instances.", func(s pool.Stats) int { return s.Instances }),
		gauge("leases", "Outstanding page leases.", func(s pool.Stats) int { return s.Leases }),
		gauge("launching", "Instances being launched.", func(s pool.Stats) int { return s.Launching }),
		gauge("capacity", "Maximum concurrent leases.", func(s pool.Stats) int { return s.Size * s.LeasesPerInstance }),
		gauge("unhealthy_instances", "Instances marked unhealthy awaiting teardown.", func(s pool.Stats) int {
			n := 0
			for _, inst := range s.PerInstance {
				if !inst.Healthy {
					n++
				}
			}
			return n
		}),
	)
}

func (m *Metrics) DrainStarted() { m.inflight.Inc() }

func (m *Metrics) DrainFinished(res dispatch.Result, err error) {
	m.inflight.Dec()
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.drains.WithLabelValues(result).Inc()
	m.drainDuration.Observe(res.Elapsed.Seconds())
	m.drainClaimed.Add(float64(res.Claimed))
}

func (m *Metrics) ClaimLost() { m.claimsLost.Inc() }

func (m *Metrics) JobFinished(outcome string, took time.Duration) {
	m.jobs.WithLabelValues(outcome).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

var _ dispatch.Observer = (*Metrics)(nil)
