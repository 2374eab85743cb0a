package store

import (
	"context"
	"fmt"

	"github.com/edvin/wsbridge/internal/model"
)

type ClusterStore struct {
	db DB
}

func NewClusterStore(db DB) *ClusterStore {
	return &ClusterStore{db: db}
}

// Upsert writes a cluster row keyed by name. Name is the primary key and is
// immutable; everything else follows the given struct.
func (s *ClusterStore) Upsert(ctx context.Context, cluster *model.WorkspaceCluster) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO clusters (name, score, state, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (name) DO UPDATE SET
			score = EXCLUDED.score,
			state = EXCLUDED.state,
			deleted = EXCLUDED.deleted,
			updated_at = now()`,
		cluster.Name, cluster.Score, cluster.State, cluster.Deleted)
	if err != nil {
		return fmt.Errorf("upsert cluster %s: %w", cluster.Name, err)
	}
	return nil
}

func (s *ClusterStore) GetByName(ctx context.Context, name string) (*model.WorkspaceCluster, error) {
	var c model.WorkspaceCluster
	err := s.db.QueryRow(ctx, `
		SELECT name, score, state, deleted, created_at, updated_at
		FROM clusters WHERE name = $1`, name).
		Scan(&c.Name, &c.Score, &c.State, &c.Deleted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("get cluster %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get cluster %s: %w", name, err)
	}
	return &c, nil
}

// List returns clusters ordered by name, optionally filtered by state.
func (s *ClusterStore) List(ctx context.Context, state model.ClusterState) ([]model.WorkspaceCluster, error) {
	query := `SELECT name, score, state, deleted, created_at, updated_at FROM clusters`
	args := []any{}
	if state != "" {
		query += ` WHERE state = $1`
		args = append(args, state)
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var clusters []model.WorkspaceCluster
	for rows.Next() {
		var c model.WorkspaceCluster
		if err := rows.Scan(&c.Name, &c.Score, &c.State, &c.Deleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clusters: %w", err)
	}
	return clusters, nil
}
