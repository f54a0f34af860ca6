package statements

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsMu          sync.Mutex
	metricsInitialized bool
	metricsErr         error

	cacheHitCounter    *prometheus.CounterVec
	cacheMissCounter   *prometheus.CounterVec
	buildHistogram     *prometheus.HistogramVec
	inconsistencyCount *prometheus.CounterVec
)

// SetupMetrics registers report service metrics once. Later calls return the
// first result.
func SetupMetrics(reg prometheus.Registerer) error {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if metricsInitialized {
		return metricsErr
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_report_cache_hits_total",
		Help: "Number of report cache hits.",
	}, []string{"report"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_report_cache_miss_total",
		Help: "Number of report cache misses.",
	}, []string{"report"})
	builds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_report_build_duration_seconds",
		Help:    "Duration required to load and build a statement.",
		Buckets: prometheus.DefBuckets,
	}, []string{"report", "outcome"})
	inconsistencies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_inconsistencies_total",
		Help: "Number of builds or scans that found the ledger out of balance.",
	}, []string{"check"})

	cacheHitCounter = register(reg, hits)
	cacheMissCounter = register(reg, misses)
	buildHistogram = register(reg, builds)
	inconsistencyCount = register(reg, inconsistencies)
	metricsInitialized = true
	return metricsErr
}

// register returns the collector already registered under the same name when
// there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, collector C) C {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		if metricsErr == nil {
			metricsErr = err
		}
	}
	return collector
}

func recordCacheResult(report string, hit bool) {
	vec := cacheMissCounter
	if hit {
		vec = cacheHitCounter
	}
	if vec == nil {
		return
	}
	vec.WithLabelValues(report).Inc()
}

func observeBuild(report string, err error, d time.Duration) {
	if buildHistogram == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	buildHistogram.WithLabelValues(report, outcome).Observe(d.Seconds())
}

func recordInconsistency(check string) {
	if inconsistencyCount == nil {
		return
	}
	inconsistencyCount.WithLabelValues(check).Inc()
}
