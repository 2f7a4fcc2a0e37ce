package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	FetchAttemptsTotal *prometheus.CounterVec
	FetchRetriesTotal  *prometheus.CounterVec
	CooldownsTotal     *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	ItemsTotal         *prometheus.CounterVec
	CacheRequestsTotal *prometheus.CounterVec
}

// NewMetrics registers all metrics on the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on the given registerer. Tests pass a
// fresh registry so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FetchAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rentradar_fetch_attempts_total",
			Help: "The total number of upstream HTTP attempts",
		}, []string{"source"}),
		FetchRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rentradar_fetch_retries_total",
			Help: "The total number of retried upstream attempts",
		}, []string{"source", "status"}), // status e.g. '429', '503', 'transport'
		CooldownsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rentradar_fetch_cooldowns_total",
			Help: "The total number of rate-limit cooldown sleeps",
		}, []string{"source"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rentradar_task_runs_total",
			Help: "The total number of task runs by terminal status",
		}, []string{"task", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rentradar_task_run_duration_seconds",
			Help:    "Wall time of task runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"task"}),
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rentradar_items_total",
			Help: "The total number of items by pipeline stage",
		}, []string{"source", "stage"}), // stage: 'fetched', 'inserted', 'deactivated'
		CacheRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rentradar_cache_requests_total",
			Help: "The total number of search cache lookups",
		}, []string{"result"}), // 'hit' or 'miss'
	}
}

func (m *Metrics) IncFetchAttempts(source string) {
	m.FetchAttemptsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) IncFetchRetries(source, status string) {
	m.FetchRetriesTotal.WithLabelValues(source, status).Inc()
}

func (m *Metrics) IncCooldowns(source string) {
	m.CooldownsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveRun(task, status string, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(task, status).Inc()
	m.RunDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

func (m *Metrics) AddItems(source, stage string, n int) {
	if n > 0 {
		m.ItemsTotal.WithLabelValues(source, stage).Add(float64(n))
	}
}

func (m *Metrics) IncCacheRequests(result string) {
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}
