package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReportCacheMetrics tracks hit/miss rates for the cached reporting layer.
type ReportCacheMetrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	invalidations *prometheus.CounterVec
}

// NewReportCacheMetrics registers the report cache metrics on the provided
// registerer. A nil registerer yields a no-op recorder, matching the cron
// metrics behavior.
func NewReportCacheMetrics(reg prometheus.Registerer) *ReportCacheMetrics {
	if reg == nil {
		return &ReportCacheMetrics{}
	}
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_cache_hits",
		Help: "Report cache lookups served from cache.",
	}, []string{"report"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_cache_misses",
		Help: "Report cache lookups that fell through to the database.",
	}, []string{"report"})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_cache_invalidations",
		Help: "Report cache entries dropped after invoice changes.",
	}, []string{"report"})
	reg.MustRegister(hits, misses, invalidations)
	return &ReportCacheMetrics{
		hits:          hits,
		misses:        misses,
		invalidations: invalidations,
	}
}

// IncHit increments the hit counter for the named report.
func (r *ReportCacheMetrics) IncHit(report string) {
	if r == nil || r.hits == nil {
		return
	}
	r.hits.WithLabelValues(normalizeLabel(report)).Inc()
}

// IncMiss increments the miss counter for the named report.
func (r *ReportCacheMetrics) IncMiss(report string) {
	if r == nil || r.misses == nil {
		return
	}
	r.misses.WithLabelValues(normalizeLabel(report)).Inc()
}

// IncInvalidation increments the invalidation counter for the named report.
func (r *ReportCacheMetrics) IncInvalidation(report string) {
	if r == nil || r.invalidations == nil {
		return
	}
	r.invalidations.WithLabelValues(normalizeLabel(report)).Inc()
}
