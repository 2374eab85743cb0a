package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	receivedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_ingest_events_received_total",
		Help: "Status events received per cluster subscription",
	}, []string{"cluster"})

	malformedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_ingest_malformed_events_total",
		Help: "Events dropped for missing required fields or unparseable payloads",
	}, []string{"cluster"})

	droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_ingest_dropped_events_total",
		Help: "Events dropped oldest-first because a cluster queue saturated",
	}, []string{"cluster"})

	degradedClusters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_ingest_degraded_clusters",
		Help: "Cluster subscriptions currently reported degraded",
	})
)
