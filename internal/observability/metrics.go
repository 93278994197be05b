// Package observability provides Prometheus metrics for the engine.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine. All methods are safe
// to call on a nil *Metrics, which turns them into no-ops.
type Metrics struct {
	registry *prometheus.Registry

	// Scan metrics
	ScansTotal     *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	Evaluations    *prometheus.CounterVec
	LastScanUnixTS prometheus.Gauge

	// Execution metrics
	TradesTotal           *prometheus.CounterVec
	TradeNotionalUSD      prometheus.Counter
	ExecutionDuration     prometheus.Histogram
	CoordinatorRejections *prometheus.CounterVec
	ConsecutiveFailures   prometheus.Gauge
	Halted                prometheus.Gauge

	// Ledger metrics
	LedgerTradeCount  prometheus.Gauge
	LedgerNotionalUSD prometheus.Gauge

	// Upstream metrics
	UpstreamLatency *prometheus.HistogramVec
	UpstreamErrors  *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on its own registry, so
// several engines (or tests) can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "swapbot"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ScansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scans_total",
			Help:      "Total number of scans by trigger",
		}, []string{"trigger"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one full scan",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "evaluations_total",
			Help:      "Candidate evaluations by result reason",
		}, []string{"reason"}),
		LastScanUnixTS: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "last_scan_timestamp",
			Help:      "Unix timestamp of the last completed scan",
		}),

		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_total",
			Help:      "Attempted executions by outcome and source",
		}, []string{"outcome", "source"}),
		TradeNotionalUSD: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executed_notional_usd_total",
			Help:      "Cumulative notional of executed trades",
		}),
		ExecutionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "Executor call latency",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		}),
		CoordinatorRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "rejections_total",
			Help:      "Opportunities the coordinator declined, by reason",
		}, []string{"reason"}),
		ConsecutiveFailures: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "consecutive_failures",
			Help:      "Current consecutive executor failure count",
		}),
		Halted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "halted",
			Help:      "1 while the coordinator is halted",
		}),

		LedgerTradeCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "trade_count",
			Help:      "Executed trades in the current UTC day",
		}),
		LedgerNotionalUSD: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "notional_usd",
			Help:      "Executed notional in the current UTC day",
		}),

		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of calls to external services",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Failed calls to external services",
		}, []string{"service", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordScan records one finished scan.
func (m *Metrics) RecordScan(trigger string, d time.Duration, reasons map[string]int, accepted int) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(trigger).Inc()
	m.ScanDuration.Observe(d.Seconds())
	m.LastScanUnixTS.SetToCurrentTime()
	if accepted > 0 {
		m.Evaluations.WithLabelValues("accepted").Add(float64(accepted))
	}
	for reason, n := range reasons {
		m.Evaluations.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordTrade records one settled execution.
func (m *Metrics) RecordTrade(outcome, source string, notional float64, d time.Duration) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(outcome, source).Inc()
	m.ExecutionDuration.Observe(d.Seconds())
	if outcome == "Executed" {
		m.TradeNotionalUSD.Add(notional)
	}
}

// RecordRejection counts an opportunity the coordinator declined.
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.CoordinatorRejections.WithLabelValues(reason).Inc()
}

// SetHealth publishes failure and halt state.
func (m *Metrics) SetHealth(consecutiveFailures int, halted bool) {
	if m == nil {
		return
	}
	m.ConsecutiveFailures.Set(float64(consecutiveFailures))
	if halted {
		m.Halted.Set(1)
	} else {
		m.Halted.Set(0)
	}
}

// SetLedger publishes the live ledger counters.
func (m *Metrics) SetLedger(count int, notional float64) {
	if m == nil {
		return
	}
	m.LedgerTradeCount.Set(float64(count))
	m.LedgerNotionalUSD.Set(notional)
}

// RecordUpstream records latency and errors for an external call.
func (m *Metrics) RecordUpstream(service, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(service, operation).Observe(d.Seconds())
	if err != nil {
		m.UpstreamErrors.WithLabelValues(service, operation).Inc()
	}
}
