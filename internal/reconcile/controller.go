package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/edvin/wsbridge/internal/messaging"
	"github.com/edvin/wsbridge/internal/model"
)

// SweepStore is the persistence surface the controller reads and corrects
// instances through.
type SweepStore interface {
	ListActiveByCluster(ctx context.Context, clusterName string) ([]model.WorkspaceInstance, error)
	MarkStopped(ctx context.Context, instanceID string, at time.Time) error
}

// ClusterLister enumerates registered clusters for sweeping.
type ClusterLister interface {
	List(state model.ClusterState) []model.WorkspaceCluster
}

// Controller periodically cross-checks the store against what each cluster
// actually runs. The store may believe an instance is running long after the
// cluster lost it (missed final event, cluster crash); such instances are
// marked stopped so they do not linger forever.
type Controller struct {
	conn      *nats.Conn
	clusters  ClusterLister
	instances SweepStore
	logger    zerolog.Logger

	interval         time.Duration
	requestTimeout   time.Duration
	maxTimeToRunning time.Duration
}

func NewController(conn *nats.Conn, clusters ClusterLister, instances SweepStore, logger zerolog.Logger, interval, requestTimeout, maxTimeToRunning time.Duration) *Controller {
	return &Controller{
		conn:             conn,
		clusters:         clusters,
		instances:        instances,
		logger:           logger.With().Str("component", "sweeper").Logger(),
		interval:         interval,
		requestTimeout:   requestTimeout,
		maxTimeToRunning: maxTimeToRunning,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			c.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Controller) sweep(ctx context.Context) {
	for _, cluster := range c.clusters.List("") {
		if cluster.Deleted {
			continue
		}
		c.sweepCluster(ctx, cluster.Name)
	}
}

func (c *Controller) sweepCluster(ctx context.Context, clusterName string) {
	msg, err := c.conn.Request(messaging.ListInstancesSubject(clusterName), nil, c.requestTimeout)
	if err != nil {
		// Clusters that do not answer are skipped, not corrected: absence of
		// a reply says nothing about their instances.
		c.logger.Debug().Err(err).Str("cluster", clusterName).Msg("cluster did not answer instance listing")
		return
	}

	var reply messaging.ListInstancesReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		c.logger.Warn().Err(err).Str("cluster", clusterName).Msg("malformed instance listing reply")
		return
	}

	reported := make(map[string]struct{}, len(reply.InstanceIDs))
	for _, id := range reply.InstanceIDs {
		reported[id] = struct{}{}
	}

	active, err := c.instances.ListActiveByCluster(ctx, clusterName)
	if err != nil {
		c.logger.Error().Err(err).Str("cluster", clusterName).Msg("failed to list active instances")
		return
	}

	now := time.Now()
	for _, inst := range active {
		if _, ok := reported[inst.InstanceID]; ok {
			continue
		}
		// Starting instances get a grace period; the cluster may simply not
		// have begun reporting them yet.
		if inst.Phase != model.PhaseRunning && now.Sub(inst.CreatedAt) < c.maxTimeToRunning {
			continue
		}

		if err := c.instances.MarkStopped(ctx, inst.InstanceID, now); err != nil {
			c.logger.Error().Err(err).Str("instance_id", inst.InstanceID).Msg("failed to mark stale instance stopped")
			continue
		}
		sweptInstances.Inc()
		c.logger.Info().Str("instance_id", inst.InstanceID).Str("cluster", clusterName).
			Str("phase", string(inst.Phase)).Msg("cluster no longer reports instance, marked stopped")
	}
}
