package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports observations as Prometheus metrics.
type PrometheusObserver struct {
	conversions    *prometheus.CounterVec
	conversionTime prometheus.Histogram
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	jobsCreated    prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	tasksFinished  *prometheus.CounterVec
	eventsDropped  prometheus.Counter
	rateLimited    prometheus.Counter
}

// NewPrometheusObserver registers the service metrics with reg and
// returns the observer feeding them.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgconv_conversions_total",
			Help: "Image conversions by output format and result.",
		}, []string{"format", "result"}),
		conversionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgconv_conversion_duration_seconds",
			Help:    "Time spent in the codec per conversion.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgconv_cache_hits_total",
			Help: "Conversion cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgconv_cache_misses_total",
			Help: "Conversion cache misses.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgconv_cache_evictions_total",
			Help: "Entries evicted from the conversion cache.",
		}),
		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgconv_jobs_created_total",
			Help: "Batch jobs accepted.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgconv_jobs_finished_total",
			Help: "Batch jobs finished by terminal status.",
		}, []string{"status"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imgconv_tasks_finished_total",
			Help: "File tasks finished by terminal state.",
		}, []string{"state"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgconv_events_dropped_total",
			Help: "Progress events dropped by full subscription buffers.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgconv_rate_limited_total",
			Help: "Requests denied by the rate limiter.",
		}),
	}

	reg.MustRegister(
		o.conversions, o.conversionTime,
		o.cacheHits, o.cacheMisses, o.cacheEvictions,
		o.jobsCreated, o.jobsFinished, o.tasksFinished,
		o.eventsDropped, o.rateLimited,
	)
	return o
}

func (o *PrometheusObserver) ConversionCompleted(format string, d time.Duration, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	o.conversions.WithLabelValues(format, result).Inc()
	o.conversionTime.Observe(d.Seconds())
}

func (o *PrometheusObserver) CacheHit()            { o.cacheHits.Inc() }
func (o *PrometheusObserver) CacheMiss()           { o.cacheMisses.Inc() }
func (o *PrometheusObserver) CacheEviction(n int)  { o.cacheEvictions.Add(float64(n)) }
func (o *PrometheusObserver) JobCreated()          { o.jobsCreated.Inc() }
func (o *PrometheusObserver) JobFinished(s string) { o.jobsFinished.WithLabelValues(s).Inc() }
func (o *PrometheusObserver) TaskFinished(s string) {
	o.tasksFinished.WithLabelValues(s).Inc()
}
func (o *PrometheusObserver) EventDropped() { o.eventsDropped.Inc() }
func (o *PrometheusObserver) RateLimited()  { o.rateLimited.Inc() }
