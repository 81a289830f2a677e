// Package meshmetrics holds the Prometheus collectors for mesh
// activity: gossip, DHT, mDNS, registry size, and Control API traffic.
package meshmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all cortex-id Prometheus collectors on an isolated
// registry, so they never collide with the global default registry
// and each test can construct its own instance.
type Metrics struct {
	Registry *prometheus.Registry

	GossipPublishTotal   *prometheus.CounterVec
	GossipReceivedTotal  *prometheus.CounterVec
	DHTProvidersTotal    *prometheus.CounterVec
	DHTRoutingTableSize  prometheus.Gauge
	MDNSDiscoveredTotal  *prometheus.CounterVec
	RegistrySize         prometheus.Gauge
	RegistryPurgedTotal  prometheus.Counter
	CommandQueueDropped  *prometheus.CounterVec
	APIRequestsTotal     *prometheus.CounterVec
	APIRequestDuration   *prometheus.HistogramVec
	BuildInfo            *prometheus.GaugeVec
}

// New creates a Metrics instance with all collectors registered on an
// isolated registry. version and goVersion are recorded as labels on
// the cortex_id_info gauge.
func New(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		GossipPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_id_gossip_publish_total",
				Help: "Total number of gossip publish attempts by topic and result.",
			},
			[]string{"topic", "result"},
		),
		GossipReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_id_gossip_received_total",
				Help: "Total number of gossip messages received by topic and decode result.",
			},
			[]string{"topic", "kind"},
		),
		DHTProvidersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_id_dht_providers_total",
				Help: "Total DHT provide/get-providers operations by kind and result.",
			},
			[]string{"kind", "result"},
		),
		DHTRoutingTableSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cortex_id_dht_routing_table_size",
				Help: "Number of peers currently in the DHT routing table.",
			},
		),
		MDNSDiscoveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_id_mdns_discovered_total",
				Help: "Total mDNS discovery events by result.",
			},
			[]string{"result"},
		),
		RegistrySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cortex_id_registry_size",
				Help: "Number of entries currently held in the registry.",
			},
		),
		RegistryPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cortex_id_registry_purged_total",
				Help: "Total number of registry entries removed by TTL purges.",
			},
		),
		CommandQueueDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_id_command_queue_dropped_total",
				Help: "Total scheduled command ticks dropped because the command queue was full.",
			},
			[]string{"command"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_id_api_requests_total",
				Help: "Total Control API requests by route and status.",
			},
			[]string{"route", "status"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_id_api_request_duration_seconds",
				Help:    "Duration of Control API requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cortex_id_info",
				Help: "Build information for the running cortex-id instance.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.GossipPublishTotal,
		m.GossipReceivedTotal,
		m.DHTProvidersTotal,
		m.DHTRoutingTableSize,
		m.MDNSDiscoveredTotal,
		m.RegistrySize,
		m.RegistryPurgedTotal,
		m.CommandQueueDropped,
		m.APIRequestsTotal,
		m.APIRequestDuration,
		m.BuildInfo,
	)
	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)

	return m
}

// Handler returns an http.Handler serving the Prometheus exposition
// format for this instance's isolated registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
