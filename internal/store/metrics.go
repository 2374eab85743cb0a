package store

import (
	"context"
	"fmt"

	"github.com/edvin/wsbridge/internal/model"
)

type MetricsStore struct {
	db DB
}

func NewMetricsStore(db DB) *MetricsStore {
	return &MetricsStore{db: db}
}

// GetByInstance returns the latest metrics snapshot for an instance.
func (s *MetricsStore) GetByInstance(ctx context.Context, instanceID string) (*model.InstanceMetrics, error) {
	var m model.InstanceMetrics
	err := s.db.QueryRow(ctx, `
		SELECT instance_id, metrics, last_modified
		FROM instance_metrics WHERE instance_id = $1`, instanceID).
		Scan(&m.InstanceID, &m.Metrics, &m.LastModified)
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("get metrics for %s: %w", instanceID, ErrNotFound)
		}
		return nil, fmt.Errorf("get metrics for %s: %w", instanceID, err)
	}
	return &m, nil
}
