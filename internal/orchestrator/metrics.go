package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report orchestrator activity.
type Metrics struct {
	submitted    *prometheus.CounterVec
	finished     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
	jobsActive   prometheus.Gauge
	queueDepth   prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once to avoid
// duplicate registration panics when the orchestrator is instantiated multiple
// times.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors that are already registered with identical descriptors are
// reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskorch",
				Subsystem: "orchestrator",
				Name:      "tasks_submitted_total",
				Help:      "Tasks accepted into the queue.",
			},
			[]string{"kind", "priority"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskorch",
				Subsystem: "orchestrator",
				Name:      "tasks_finished_total",
				Help:      "Tasks that reached a terminal state.",
			},
			[]string{"status", "source"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "taskorch",
				Subsystem: "orchestrator",
				Name:      "task_processing_seconds",
				Help:      "Time from dispatch to terminal result.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskorch",
				Subsystem: "orchestrator",
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups by outcome.",
			},
			[]string{"result"},
		),
		jobsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "taskorch",
				Subsystem: "orchestrator",
				Name:      "jobs_active",
				Help:      "Number of tasks currently being processed.",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "taskorch",
				Subsystem: "orchestrator",
				Name:      "queue_depth",
				Help:      "Number of tasks waiting for dispatch.",
			},
		),
	}

	m.submitted = registerOrReuse(reg, m.submitted)
	m.finished = registerOrReuse(reg, m.finished)
	m.duration = registerOrReuse(reg, m.duration)
	m.cacheLookups = registerOrReuse(reg, m.cacheLookups)
	m.jobsActive = registerOrReuse(reg, m.jobsActive)
	m.queueDepth = registerOrReuse(reg, m.queueDepth)
	return m
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

// IncSubmitted counts an accepted task.
func (m *Metrics) IncSubmitted(kind, priority string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(kind, priority).Inc()
}

// ObserveFinished records a terminal result. source is cache, backend or none.
func (m *Metrics) ObserveFinished(status, source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(status, source).Inc()
	m.duration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncCacheLookup counts a cache lookup as hit or miss.
func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// IncActiveJobs marks a job as active.
func (m *Metrics) IncActiveJobs() {
	if m == nil {
		return
	}
	m.jobsActive.Inc()
}

// DecActiveJobs marks a job as finished.
func (m *Metrics) DecActiveJobs() {
	if m == nil {
		return
	}
	m.jobsActive.Dec()
}

// SetQueueDepth reports the current queue size.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
