package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AdmissionTotal counts submission outcomes by result code.
	AdmissionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportsvc",
		Subsystem: "admission",
		Name:      "submissions_total",
		Help:      "Total report submissions processed, labeled by outcome code.",
	}, []string{"result"})

	// ClassifierDurationSeconds measures wall-clock time of detection calls.
	ClassifierDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reportsvc",
		Subsystem: "classifier",
		Name:      "request_duration_seconds",
		Help:      "Time spent on external detection calls, cache misses only.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})

	// CacheHitsTotal counts verdict cache hits.
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reportsvc",
		Subsystem: "classifier",
		Name:      "cache_hits_total",
		Help:      "Total verdict cache hits.",
	})

	// CacheMissesTotal counts verdict cache misses.
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reportsvc",
		Subsystem: "classifier",
		Name:      "cache_misses_total",
		Help:      "Total verdict cache misses.",
	})

	// UploadTimeoutsTotal counts storage uploads lost to the deadline.
	UploadTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reportsvc",
		Subsystem: "storage",
		Name:      "upload_timeouts_total",
		Help:      "Total uploads abandoned because the deadline fired first.",
	})

	// TransitionsTotal counts lifecycle transitions by kind and result.
	TransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportsvc",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Total lifecycle transitions attempted, labeled by kind and result.",
	}, []string{"kind", "result"})
)

// Register registers service metrics with the default Prometheus
// registry. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AdmissionTotal,
			ClassifierDurationSeconds,
			CacheHitsTotal,
			CacheMissesTotal,
			UploadTimeoutsTotal,
			TransitionsTotal,
		)
	})
}
