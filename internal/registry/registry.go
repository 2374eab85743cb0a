package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/edvin/wsbridge/internal/model"
)

var (
	// ErrClusterConflict is returned when registering a name that is already
	// taken by a live cluster.
	ErrClusterConflict = errors.New("cluster name already registered")
	// ErrNotFound is returned when a named cluster does not exist.
	ErrNotFound = errors.New("cluster not found")
	// ErrInvalidTransition is returned for state changes out of a terminal
	// state or into an unknown one.
	ErrInvalidTransition = errors.New("invalid cluster state transition")
)

// ClusterStore is the persistence surface the registry writes through.
type ClusterStore interface {
	Upsert(ctx context.Context, cluster *model.WorkspaceCluster) error
	List(ctx context.Context, state model.ClusterState) ([]model.WorkspaceCluster, error)
}

// InstanceTombstoner marks a deleted cluster's instances as deleted.
type InstanceTombstoner interface {
	MarkDeletedByCluster(ctx context.Context, clusterName string) (int64, error)
}

// Registry is the authoritative view of known execution clusters: a
// write-through in-memory cache over the cluster store. All mutations hold
// the write lock across the store write, so validation snapshots taken under
// the read lock are point-in-time consistent.
type Registry struct {
	store     ClusterStore
	instances InstanceTombstoner
	logger    zerolog.Logger

	mu       sync.RWMutex
	clusters map[string]model.WorkspaceCluster
	degraded map[string]bool
	watchers []chan struct{}
}

func New(store ClusterStore, instances InstanceTombstoner, logger zerolog.Logger) *Registry {
	return &Registry{
		store:     store,
		instances: instances,
		logger:    logger.With().Str("component", "registry").Logger(),
		clusters:  make(map[string]model.WorkspaceCluster),
		degraded:  make(map[string]bool),
	}
}

// Load warms the cache from the store. Called once at startup before any
// component consults the registry.
func (r *Registry) Load(ctx context.Context) error {
	clusters, err := r.store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("load clusters: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range clusters {
		r.clusters[c.Name] = c
	}
	r.logger.Info().Int("clusters", len(clusters)).Msg("cluster registry loaded")
	return nil
}

// Register adds a cluster. Registering a name held by a live cluster fails
// with ErrClusterConflict; re-registering a deleted cluster under the same
// name reactivates it.
func (r *Registry) Register(ctx context.Context, cluster model.WorkspaceCluster) error {
	if cluster.State == "" {
		cluster.State = model.ClusterAvailable
	}
	if !model.ValidClusterState(cluster.State) || cluster.State == model.ClusterDeleted {
		return fmt.Errorf("register cluster %s: %w", cluster.Name, ErrInvalidTransition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.clusters[cluster.Name]; ok && !existing.Deleted {
		return fmt.Errorf("register cluster %s: %w", cluster.Name, ErrClusterConflict)
	}

	cluster.Deleted = false
	if err := r.store.Upsert(ctx, &cluster); err != nil {
		return err
	}
	r.clusters[cluster.Name] = cluster
	delete(r.degraded, cluster.Name)
	r.notifyLocked()

	r.logger.Info().Str("cluster", cluster.Name).Str("state", string(cluster.State)).Msg("cluster registered")
	return nil
}

// SetState transitions a cluster's governance state. Deleting a cluster
// tombstones it together with all its instances; deleted is terminal.
func (r *Registry) SetState(ctx context.Context, name string, state model.ClusterState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cluster, ok := r.clusters[name]
	if !ok {
		return fmt.Errorf("set state for cluster %s: %w", name, ErrNotFound)
	}
	if !model.ValidClusterTransition(cluster.State, state) {
		return fmt.Errorf("set state for cluster %s (%s -> %s): %w", name, cluster.State, state, ErrInvalidTransition)
	}

	cluster.State = state
	cluster.Deleted = state == model.ClusterDeleted
	if err := r.store.Upsert(ctx, &cluster); err != nil {
		return err
	}
	r.clusters[name] = cluster
	r.notifyLocked()

	if cluster.Deleted {
		delete(r.degraded, name)
		n, err := r.instances.MarkDeletedByCluster(ctx, name)
		if err != nil {
			// The cluster row is already tombstoned; the engine drops its
			// events regardless, so log and carry on.
			r.logger.Error().Err(err).Str("cluster", name).Msg("failed to tombstone cluster instances")
		} else if n > 0 {
			r.logger.Info().Str("cluster", name).Int64("instances", n).Msg("tombstoned cluster instances")
		}
	}

	r.logger.Info().Str("cluster", name).Str("state", string(state)).Msg("cluster state changed")
	return nil
}

// SetScore updates a cluster's scheduling weight.
func (r *Registry) SetScore(ctx context.Context, name string, score int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cluster, ok := r.clusters[name]
	if !ok {
		return fmt.Errorf("set score for cluster %s: %w", name, ErrNotFound)
	}
	if cluster.Deleted {
		return fmt.Errorf("set score for cluster %s: %w", name, ErrInvalidTransition)
	}

	cluster.Score = score
	if err := r.store.Upsert(ctx, &cluster); err != nil {
		return err
	}
	r.clusters[name] = cluster
	return nil
}

// List returns a snapshot of clusters ordered by name, optionally filtered
// by state.
func (r *Registry) List(state model.ClusterState) []model.WorkspaceCluster {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clusters := make([]model.WorkspaceCluster, 0, len(r.clusters))
	for _, c := range r.clusters {
		if state != "" && c.State != state {
			continue
		}
		clusters = append(clusters, c)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Name < clusters[j].Name })
	return clusters
}

// Resolve returns the cluster for name, if known. Used by the engine to
// validate incoming events' cluster references.
func (r *Registry) Resolve(name string) (model.WorkspaceCluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clusters[name]
	return c, ok
}

// MarkDegraded records the ingestion channel's health signal for a cluster.
// It never changes cluster state; cordoning a flapping cluster is an
// administrative decision.
func (r *Registry) MarkDegraded(name string, degraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clusters[name]; !ok {
		return
	}
	if degraded {
		r.degraded[name] = true
	} else {
		delete(r.degraded, name)
	}
}

// Degraded reports whether the ingestion channel flagged the cluster.
func (r *Registry) Degraded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded[name]
}

// Watch returns a channel that receives a signal after every membership or
// state mutation. The signal is coalescing; receivers re-list on wakeup.
//
// Watchers live for the registry's lifetime and are never removed; the only
// subscriber is the ingest manager, which watches once at startup and for the
// rest of the process. An unsubscribe path would be dead code until a second,
// shorter-lived subscriber exists.
func (r *Registry) Watch() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{}, 1)
	r.watchers = append(r.watchers, ch)
	return ch
}

func (r *Registry) notifyLocked() {
	for _, ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
