// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livefeed"

// Refresh cycle outcomes, used as the "result" label.
const (
	ResultPublished  = "published"
	ResultUnchanged  = "unchanged"
	ResultFetchError = "fetch_error"
	ResultParseError = "parse_error"
)

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RefresherMetrics holds Prometheus metrics for the background refresher.
type RefresherMetrics struct {
	Cycles          *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	LastSuccess     prometheus.Gauge
	SnapshotVersion prometheus.Gauge
}

// NewRefresherMetrics creates and registers refresher metrics on reg.
func NewRefresherMetrics(reg prometheus.Registerer) *RefresherMetrics {
	m := &RefresherMetrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "cycles_total",
			Help:      "Refresh cycles by outcome.",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching and parsing upstream data.",
			Buckets:   prometheus.DefBuckets,
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful fetch.",
		}),
		SnapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "snapshot_version",
			Help:      "Version of the currently published snapshot.",
		}),
	}

	reg.MustRegister(m.Cycles, m.FetchDuration, m.LastSuccess, m.SnapshotVersion)
	return m
}

// StreamMetrics holds Prometheus metrics for streaming sessions.
type StreamMetrics struct {
	ActiveSessions *prometheus.GaugeVec
	MessagesSent   *prometheus.CounterVec
	Rejected       *prometheus.CounterVec
}

// NewStreamMetrics creates and registers session metrics on reg.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_sessions",
			Help:      "Number of connected streaming sessions.",
		}, []string{"transport"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_sent_total",
			Help:      "Snapshot messages written to clients.",
		}, []string{"transport"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "rejected_total",
			Help:      "Connections refused by admission control.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.ActiveSessions, m.MessagesSent, m.Rejected)
	return m
}
