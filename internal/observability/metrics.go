package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus collectors for the reconciliation engine.
type Metrics struct {
	registry   *prometheus.Registry
	handler    http.Handler
	recomputes *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	violations *prometheus.CounterVec
	fetchFails prometheus.Counter
	postings   *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics builds a dedicated registry with the engine collectors. Passing
// nil reuses a process-wide default instance.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.NewRegistry())
		})
		return defaultMetrics
	}
	return buildMetrics(registry)
}

func buildMetrics(registry *prometheus.Registry) *Metrics {
	recomputes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_recompute_runs_total",
		Help: "Document recompute runs by module and status.",
	}, []string{"module", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_recompute_duration_seconds",
		Help:    "Document recompute duration by module.",
		Buckets: prometheus.DefBuckets,
	}, []string{"module"})
	violations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_rounding_invariant_violations_total",
		Help: "Recomputes whose bucket totals diverged from record totals.",
	}, []string{"module"})
	fetchFails := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_ledger_fetch_failures_total",
		Help: "Ledger balance fetches aborted because the collaborator was unavailable.",
	})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_ledger_postings_total",
		Help: "Ledger posting side effects by result.",
	}, []string{"result"})
	registry.MustRegister(recomputes, duration, violations, fetchFails, postings)
	return &Metrics{
		registry:   registry,
		handler:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		recomputes: recomputes,
		duration:   duration,
		violations: violations,
		fetchFails: fetchFails,
		postings:   postings,
	}
}

// Handler returns the scrape handler for the embedding application.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Tracker instruments a single recompute run.
type Tracker struct {
	metrics *Metrics
	module  string
	start   time.Time
}

// Track spawns a tracker for the given module.
func (m *Metrics) Track(module string) *Tracker {
	return &Tracker{metrics: m, module: module, start: time.Now()}
}

// End finalises the tracker, recording duration and outcome, and returns the
// provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.recomputes.WithLabelValues(t.module, status).Inc()
	t.metrics.duration.WithLabelValues(t.module).Observe(time.Since(t.start).Seconds())
	return err
}

// RoundingViolation counts a rounding-invariant failure. These indicate a
// bug and should alert.
func (m *Metrics) RoundingViolation(module string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(module).Inc()
}

// LedgerFetchFailure counts an aborted ledger balance fetch.
func (m *Metrics) LedgerFetchFailure() {
	if m == nil {
		return
	}
	m.fetchFails.Inc()
}

// PostingOutcome counts a ledger posting side effect result.
func (m *Metrics) PostingOutcome(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.postings.WithLabelValues(result).Inc()
}
