// Package metrics exposes traffic, threat, evidence, proxy, and cycle
// telemetry to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torsentry/torsentry/internal/ledger"
	"github.com/torsentry/torsentry/internal/orchestrator"
	"github.com/torsentry/torsentry/internal/proxy"
	"github.com/torsentry/torsentry/internal/threat"
	"github.com/torsentry/torsentry/internal/traffic"
)

const namespace = "torsentry"

// Cycle results
const (
	CycleOK           = "ok"
	CycleDisconnected = "disconnected"
	CycleFailed       = "failed"
)

// ThreatSource reports the current threat summary.
type ThreatSource interface {
	Summary() threat.Summary
}

// ChainSource reports the evidence chain.
type ChainSource interface {
	Len() int
	Verify() ledger.Verification
}

// ProxySource reports the last proxy check.
type ProxySource interface {
	Last() proxy.Result
}

// Sources are read on every scrape. Nil sources are skipped.
type Sources struct {
	Threats ThreatSource
	Chain   ChainSource
	Proxy   ProxySource
}

// Collector counts samples and cycles as they happen and reads threat,
// chain, and proxy state at scrape time.
type Collector struct {
	src Sources

	requests      *prometheus.CounterVec
	bytes         prometheus.Counter
	latency       prometheus.Histogram
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastCycle     prometheus.Gauge

	threatsDesc    *prometheus.Desc
	confidenceDesc *prometheus.Desc
	chainLenDesc   *prometheus.Desc
	chainValidDesc *prometheus.Desc
	proxyDesc      *prometheus.Desc
}

// New creates a collector.
func New(src Sources) *Collector {
	return &Collector{
		src: src,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "traffic", Name: "requests_total",
			Help: "Monitored requests by outcome.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "traffic", Name: "bytes_total",
			Help: "Response bytes received through the proxy.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "traffic", Name: "request_duration_seconds",
			Help:    "Duration of monitored requests.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scan", Name: "cycles_total",
			Help: "Scan cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scan", Name: "cycle_duration_seconds",
			Help:    "Duration of scan cycles.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scan", Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last successful cycle.",
		}),
		threatsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "threat", "active"),
			"Active threat events by severity.", []string{"severity"}, nil),
		confidenceDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "threat", "average_confidence"),
			"Average confidence of active threat events.", nil, nil),
		chainLenDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "evidence", "blocks"),
			"Blocks in the evidence chain including genesis.", nil, nil),
		chainValidDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "evidence", "chain_valid"),
			"1 when the evidence chain verifies.", nil, nil),
		proxyDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "proxy", "state"),
			"1 for the current proxy state.", []string{"state"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.bytes.Describe(ch)
	c.latency.Describe(ch)
	c.cycles.Describe(ch)
	c.cycleDuration.Describe(ch)
	c.lastCycle.Describe(ch)
	ch <- c.threatsDesc
	ch <- c.confidenceDesc
	ch <- c.chainLenDesc
	ch <- c.chainValidDesc
	ch <- c.proxyDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.bytes.Collect(ch)
	c.latency.Collect(ch)
	c.cycles.Collect(ch)
	c.cycleDuration.Collect(ch)
	c.lastCycle.Collect(ch)

	if c.src.Threats != nil {
		s := c.src.Threats.Summary()
		for sev, n := range map[threat.Severity]int{
			threat.SeverityCritical: s.BySeverity.Critical,
			threat.SeverityHigh:     s.BySeverity.High,
			threat.SeverityMedium:   s.BySeverity.Medium,
			threat.SeverityLow:      s.BySeverity.Low,
		} {
			ch <- prometheus.MustNewConstMetric(c.threatsDesc, prometheus.GaugeValue, float64(n), string(sev))
		}
		ch <- prometheus.MustNewConstMetric(c.confidenceDesc, prometheus.GaugeValue, float64(s.AverageConfidence))
	}

	if c.src.Chain != nil {
		ch <- prometheus.MustNewConstMetric(c.chainLenDesc, prometheus.GaugeValue, float64(c.src.Chain.Len()))
		ch <- prometheus.MustNewConstMetric(c.chainValidDesc, prometheus.GaugeValue, boolValue(c.src.Chain.Verify().Valid))
	}

	if c.src.Proxy != nil {
		current := c.src.Proxy.Last().State
		for _, st := range []proxy.State{proxy.StateUnverified, proxy.StateDiscovering, proxy.StateConnected, proxy.StateDisconnected} {
			ch <- prometheus.MustNewConstMetric(c.proxyDesc, prometheus.GaugeValue, boolValue(st == current), st.String())
		}
	}
}

// ObserveSample implements traffic.Sink.
func (c *Collector) ObserveSample(_ context.Context, s traffic.Sample) {
	outcome := "ok"
	switch {
	case s.Failed():
		outcome = "error"
	case s.StatusCode >= 400:
		outcome = "http_error"
	}
	c.requests.WithLabelValues(outcome).Inc()
	c.bytes.Add(float64(s.DataSize))
	c.latency.Observe(float64(s.DurationMs) / 1000)
}

// ObserveCycle implements orchestrator.CycleObserver.
func (c *Collector) ObserveCycle(snap *orchestrator.Snapshot, err error, took time.Duration) {
	c.cycleDuration.Observe(took.Seconds())

	var ce *proxy.ConnectivityError
	switch {
	case err == nil:
		c.cycles.WithLabelValues(CycleOK).Inc()
		if snap != nil {
			c.lastCycle.Set(float64(snap.StartedAt.Unix()))
		}
	case errors.As(err, &ce):
		c.cycles.WithLabelValues(CycleDisconnected).Inc()
	default:
		c.cycles.WithLabelValues(CycleFailed).Inc()
	}
}

// NewRegistry registers c with the process and Go runtime collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		c,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
