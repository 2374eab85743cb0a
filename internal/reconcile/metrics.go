package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_events_applied_total",
		Help: "Status events applied to the store",
	})

	staleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_stale_events_total",
		Help: "Events dropped because their (timestamp, sequence) tuple did not supersede the stored one",
	})

	unknownClusterEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_unknown_cluster_events_total",
		Help: "Events dropped because they referenced an unregistered cluster",
	})

	eventsForDeletedCluster = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_events_for_deleted_cluster_total",
		Help: "Events dropped because their cluster is deleted",
	})

	phaseRegressions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_phase_regressions_total",
		Help: "Events whose phase component was rejected for violating phase monotonicity",
	})

	clusterMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_cluster_mismatches_total",
		Help: "Events rejected because they referenced an instance owned by another cluster",
	})

	deadLetteredEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_dead_letter_events_total",
		Help: "Events parked on the dead-letter path after exhausting persistence retries",
	})

	sweptInstances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_swept_instances_total",
		Help: "Instances marked stopped because their cluster no longer reports them",
	})
)
