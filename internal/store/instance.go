package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edvin/wsbridge/internal/model"
)

type InstanceStore struct {
	db DB
}

func NewInstanceStore(db DB) *InstanceStore {
	return &InstanceStore{db: db}
}

func (s *InstanceStore) GetByID(ctx context.Context, instanceID string) (*model.WorkspaceInstance, error) {
	var i model.WorkspaceInstance
	err := s.db.QueryRow(ctx, `
		SELECT instance_id, workspace_id, cluster_name, phase, phase_persisted,
		       deleted, configuration, sequence, last_modified, created_at, updated_at
		FROM workspace_instances WHERE instance_id = $1`, instanceID).
		Scan(&i.InstanceID, &i.WorkspaceID, &i.ClusterName, &i.Phase, &i.PhasePersisted,
			&i.Deleted, &i.Configuration, &i.Sequence, &i.LastModified, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("get instance %s: %w", instanceID, ErrNotFound)
		}
		return nil, fmt.Errorf("get instance %s: %w", instanceID, err)
	}
	return &i, nil
}

const applyInstanceSQL = `
	INSERT INTO workspace_instances
		(instance_id, workspace_id, cluster_name, phase, phase_persisted,
		 deleted, configuration, sequence, last_modified, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, now(), now())
	ON CONFLICT (instance_id) DO UPDATE SET
		workspace_id = CASE WHEN workspace_instances.workspace_id = ''
			THEN EXCLUDED.workspace_id ELSE workspace_instances.workspace_id END,
		phase = CASE WHEN workspace_instances.phase = 'stopped'
			THEN workspace_instances.phase ELSE EXCLUDED.phase END,
		phase_persisted = CASE WHEN workspace_instances.phase = 'stopped'
			THEN workspace_instances.phase_persisted ELSE EXCLUDED.phase_persisted END,
		deleted = workspace_instances.deleted OR EXCLUDED.deleted,
		sequence = CASE WHEN EXCLUDED.last_modified > workspace_instances.last_modified
				OR (EXCLUDED.last_modified = workspace_instances.last_modified
					AND EXCLUDED.sequence > workspace_instances.sequence)
			THEN EXCLUDED.sequence ELSE workspace_instances.sequence END,
		last_modified = GREATEST(workspace_instances.last_modified, EXCLUDED.last_modified),
		updated_at = now()`

// Apply upserts the instance row and, when metrics is non-nil, the metrics
// snapshot in the same statement so both commit atomically. The row's
// cluster_name and configuration are written on create only; status events
// never reassign an instance to another cluster.
//
// The engine read-modify-writes through its lanes, but tombstoning
// (MarkDeletedByCluster) and the sweeper (MarkStopped) write rows from
// outside them. The update therefore re-checks monotonicity in SQL: a
// tombstone is never un-set, a stopped row keeps its phase, and the
// (last_modified, sequence) tuple never moves backwards — a lane that read
// the row before a concurrent correction committed cannot undo it.
//
// phase and phase_persisted are written together: the bridge runs with
// at-least-once semantics, so after a crash the redelivered event re-applies
// as a no-op and the two columns cannot diverge in the store.
func (s *InstanceStore) Apply(ctx context.Context, inst *model.WorkspaceInstance, metrics json.RawMessage) error {
	args := []any{
		inst.InstanceID, inst.WorkspaceID, inst.ClusterName, inst.Phase,
		inst.Deleted, inst.Configuration, inst.Sequence, inst.LastModified,
	}

	query := applyInstanceSQL
	if metrics != nil {
		query = `WITH inst AS (` + applyInstanceSQL + `)
			INSERT INTO instance_metrics (instance_id, metrics, last_modified)
			VALUES ($1, $9, $8)
			ON CONFLICT (instance_id) DO UPDATE SET
				metrics = EXCLUDED.metrics,
				last_modified = EXCLUDED.last_modified`
		args = append(args, metrics)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("apply instance %s: %w", inst.InstanceID, err)
	}
	return nil
}

// MarkStopped forces an instance into the Stopped phase, used by the sweeper
// when the owning cluster no longer reports it.
func (s *InstanceStore) MarkStopped(ctx context.Context, instanceID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE workspace_instances
		SET phase = $1, phase_persisted = $1, last_modified = $2, updated_at = now()
		WHERE instance_id = $3`,
		model.PhaseStopped, at, instanceID)
	if err != nil {
		return fmt.Errorf("mark instance %s stopped: %w", instanceID, err)
	}
	return nil
}

// MarkDeletedByCluster tombstones every instance owned by a cluster. Rows
// stay queryable for audit.
func (s *InstanceStore) MarkDeletedByCluster(ctx context.Context, clusterName string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE workspace_instances
		SET deleted = true, updated_at = now()
		WHERE cluster_name = $1 AND NOT deleted`, clusterName)
	if err != nil {
		return 0, fmt.Errorf("tombstone instances for cluster %s: %w", clusterName, err)
	}
	return tag.RowsAffected(), nil
}

// ListActiveByCluster returns non-deleted, non-stopped instances owned by a
// cluster, used by the stale-instance sweeper.
func (s *InstanceStore) ListActiveByCluster(ctx context.Context, clusterName string) ([]model.WorkspaceInstance, error) {
	rows, err := s.db.Query(ctx, `
		SELECT instance_id, workspace_id, cluster_name, phase, phase_persisted,
		       deleted, configuration, sequence, last_modified, created_at, updated_at
		FROM workspace_instances
		WHERE cluster_name = $1 AND NOT deleted AND phase <> $2
		ORDER BY instance_id`, clusterName, model.PhaseStopped)
	if err != nil {
		return nil, fmt.Errorf("list active instances for cluster %s: %w", clusterName, err)
	}
	defer rows.Close()

	var instances []model.WorkspaceInstance
	for rows.Next() {
		var i model.WorkspaceInstance
		if err := rows.Scan(&i.InstanceID, &i.WorkspaceID, &i.ClusterName, &i.Phase, &i.PhasePersisted,
			&i.Deleted, &i.Configuration, &i.Sequence, &i.LastModified, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return instances, nil
}
