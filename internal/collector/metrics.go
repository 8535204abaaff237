package collector

import (
	"net/http"

	"github.com/barak1panker/server-monitoring/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "fleet"

// Metrics are the collector's own counters, kept on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ingestRequests *prometheus.CounterVec
	hashRecords    prometheus.Counter
	hashDropped    *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	throttled      prometheus.Counter
	hosts          *prometheus.GaugeVec
	iocHashes      prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_requests_total",
			Help:      "Ingestion requests by payload kind and result.",
		}, []string{"kind", "result"}),
		hashRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hash_records_total",
			Help:      "File hash records stored.",
		}),
		hashDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hash_entries_dropped_total",
			Help:      "Hash batch entries dropped before storage.",
		}, []string{"reason"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_total",
			Help:      "Alerts by category and outcome.",
		}, []string{"category", "outcome"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_throttled_total",
			Help:      "Ingestion requests rejected by the rate limiter.",
		}),
		hosts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "hosts",
			Help:      "Hosts in the liveness cache by status at the last fleet read.",
		}, []string{"status"}),
		iocHashes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ioc_hashes",
			Help:      "Known-bad hashes loaded in memory.",
		}),
	}

	m.registry.MustRegister(
		m.ingestRequests, m.hashRecords, m.hashDropped, m.alerts,
		m.throttled, m.hosts, m.iocHashes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ingest(kind, result string) {
	m.ingestRequests.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) alert(category models.AlertCategory, outcome string) {
	m.alerts.WithLabelValues(string(category), outcome).Inc()
}

func (m *Metrics) observeFleet(servers []models.ServerStatus) {
	up, down := 0, 0
	for _, s := range servers {
		if s.Status == models.StatusUp {
			up++
		} else {
			down++
		}
	}
	m.hosts.WithLabelValues(models.StatusUp).Set(float64(up))
	m.hosts.WithLabelValues(models.StatusDown).Set(float64(down))
}

// SetIOCHashes records the size of the in-memory known-bad set.
func (m *Metrics) SetIOCHashes(n int) {
	m.iocHashes.Set(float64(n))
}
