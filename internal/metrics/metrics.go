// Package metrics exposes scanner and API metrics in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caihongdao/antbox-monitor/internal/scanner"
)

const (
	namespace     = "antbox"
	subsystemScan = "scan"
	subsystemHTTP = "http"
)

// Metrics collects scan and HTTP metrics on a private registry. It implements
// scanner.EventSink.
type Metrics struct {
	registry *prometheus.Registry

	devicesFound     *prometheus.CounterVec
	scansTotal       *prometheus.CounterVec
	scanDuration     prometheus.Histogram
	activeScans      prometheus.Gauge
	addressesScanned prometheus.Gauge
	addressesTotal   prometheus.Gauge
	progressPercent  prometheus.Gauge
	throughput       prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.devicesFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "devices_found_total",
			Help:      "Devices found by category and response status",
		},
		[]string{"device_type", "status"},
	)

	m.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "sessions_total",
			Help:      "Finished scan sessions by final status",
		},
		[]string{"status"},
	)

	m.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of finished scan sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	m.activeScans = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemScan,
		Name:      "active",
		Help:      "Whether a scan session is currently running",
	})

	m.addressesScanned = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemScan,
		Name:      "addresses_scanned",
		Help:      "Addresses probed in the current session",
	})

	m.addressesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemScan,
		Name:      "addresses_total",
		Help:      "Addresses in the current session range",
	})

	m.progressPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemScan,
		Name:      "progress_percent",
		Help:      "Completion of the current session",
	})

	m.throughput = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystemScan,
		Name:      "addresses_per_second",
		Help:      "Probe throughput of the current session",
	})

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "requests_total",
			Help:      "API requests by method, route and status code",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "request_duration_seconds",
			Help:      "API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.registry.MustRegister(
		m.devicesFound,
		m.scansTotal,
		m.scanDuration,
		m.activeScans,
		m.addressesScanned,
		m.addressesTotal,
		m.progressPercent,
		m.throughput,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HandleResult counts a discovered device.
func (m *Metrics) HandleResult(_ uint64, outcome scanner.ProbeOutcome) error {
	m.devicesFound.WithLabelValues(string(outcome.Category), string(outcome.Status)).Inc()
	return nil
}

// HandleProgress updates the current session gauges.
func (m *Metrics) HandleProgress(snapshot scanner.ProgressSnapshot) error {
	if snapshot.Status == scanner.SessionScanning {
		m.activeScans.Set(1)
	}
	m.addressesScanned.Set(float64(snapshot.Counters.Scanned))
	m.addressesTotal.Set(float64(snapshot.Total))
	m.progressPercent.Set(float64(snapshot.Percent))
	m.throughput.Set(snapshot.Throughput)
	return nil
}

// HandleSummary records a finished session.
func (m *Metrics) HandleSummary(summary scanner.Summary) error {
	m.activeScans.Set(0)
	m.throughput.Set(0)
	m.addressesScanned.Set(float64(summary.Counters.Scanned))
	m.addressesTotal.Set(float64(summary.Total))
	m.scansTotal.WithLabelValues(string(summary.Status)).Inc()
	m.scanDuration.Observe(summary.ElapsedSeconds)
	return nil
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
