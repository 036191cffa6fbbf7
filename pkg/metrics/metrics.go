// Package metrics exposes dashboard load metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smdmonitor/smdmonitor/pkg/common"
	"github.com/smdmonitor/smdmonitor/pkg/types"
)

const namespace = "smdmonitor"

// Load results.
const (
	ResultLoaded = "loaded"
	ResultEmpty  = "empty"
	ResultError  = "error"
)

// Metrics holds the collectors for one registry. A nil *Metrics records
// nothing.
type Metrics struct {
	registry    *prometheus.Registry
	loads       *prometheus.CounterVec
	loadSeconds prometheus.Histogram
	rejected    prometheus.Counter
	violations  *prometheus.GaugeVec
	buildInfo   *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry along with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboard_loads_total",
			Help:      "Dashboard loads by result.",
		}, []string{"result"}),
		loadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dashboard_load_seconds",
			Help:      "Time spent loading and evaluating grid updates.",
			Buckets:   prometheus.DefBuckets,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_rows_total",
			Help:      "Grid update rows rejected during normalization.",
		}),
		violations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_violations",
			Help:      "Intervals below PMIN in the most recent load.",
		}, []string{"zone"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Always 1, labeled with the running version.",
		}, []string{"version"}),
	}
	m.buildInfo.WithLabelValues(common.Version()).Set(1)
	m.registry.MustRegister(
		m.loads,
		m.loadSeconds,
		m.rejected,
		m.violations,
		m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveLoad records the outcome and duration of one dashboard load.
func (m *Metrics) ObserveLoad(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(result).Inc()
	m.loadSeconds.Observe(d.Seconds())
}

// AddRejected counts rows dropped by the normalizer.
func (m *Metrics) AddRejected(n int) {
	if m != nil && n > 0 {
		m.rejected.Add(float64(n))
	}
}

// SetViolations records the violation count of a zone.
func (m *Metrics) SetViolations(zone types.Zone, n int) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(string(zone)).Set(float64(n))
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
