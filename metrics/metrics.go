// Package metrics holds the Prometheus collectors for capability scans.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan holds all scan metrics. A nil *Scan records nothing.
type Scan struct {
	ScansTotal        prometheus.Counter
	CandidatesTotal   prometheus.Counter
	LoadFailuresTotal *prometheus.CounterVec
	MatchesTotal      *prometheus.CounterVec
	ScanDuration      prometheus.Histogram
	ModulesLoaded     prometheus.Gauge
}

// NewScan creates and registers all scan metrics on registerer.
func NewScan(registerer prometheus.Registerer) *Scan {
	m := &Scan{
		ScansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "capscan_scans_total",
				Help: "Total number of plugin directory scans",
			},
		),
		CandidatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "capscan_candidates_total",
				Help: "Total number of candidate module files found",
			},
		),
		LoadFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capscan_load_failures_total",
				Help: "Total number of candidate modules that could not be inspected",
			},
			[]string{"reason"},
		),
		MatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capscan_matches_total",
				Help: "Total number of types matching a contract",
			},
			[]string{"contract", "source"},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "capscan_scan_duration_seconds",
				Help:    "Scan duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ModulesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "capscan_modules_loaded",
				Help: "Number of on-disk modules permanently loaded into the host",
			},
		),
	}

	registerer.MustRegister(
		m.ScansTotal,
		m.CandidatesTotal,
		m.LoadFailuresTotal,
		m.MatchesTotal,
		m.ScanDuration,
		m.ModulesLoaded,
	)

	return m
}

// RecordScan records a finished scan.
func (m *Scan) RecordScan(candidates int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.Inc()
	m.CandidatesTotal.Add(float64(candidates))
	m.ScanDuration.Observe(duration.Seconds())
}

// RecordFailure records a candidate that failed to load.
func (m *Scan) RecordFailure(reason string) {
	if m == nil {
		return
	}
	m.LoadFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordMatches records n matches of contract from source.
func (m *Scan) RecordMatches(contract, source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MatchesTotal.WithLabelValues(contract, source).Add(float64(n))
}

// SetModulesLoaded records the host's loaded module count.
func (m *Scan) SetModulesLoaded(n int) {
	if m == nil {
		return
	}
	m.ModulesLoaded.Set(float64(n))
}

// Handler returns an HTTP handler for the metrics
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
