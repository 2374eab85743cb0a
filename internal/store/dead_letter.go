package store

import (
	"context"
	"fmt"

	"github.com/edvin/wsbridge/internal/model"
)

type DeadLetterStore struct {
	db DB
}

func NewDeadLetterStore(db DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

func (s *DeadLetterStore) Insert(ctx context.Context, ev *model.DeadLetterEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO dead_letter_events (id, cluster_name, instance_id, payload, reason, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		ev.ID, ev.ClusterName, ev.InstanceID, ev.Payload, ev.Reason, ev.Attempts)
	if err != nil {
		return fmt.Errorf("insert dead letter for %s: %w", ev.InstanceID, err)
	}
	return nil
}

func (s *DeadLetterStore) GetByID(ctx context.Context, id string) (*model.DeadLetterEvent, error) {
	var ev model.DeadLetterEvent
	err := s.db.QueryRow(ctx, `
		SELECT id, cluster_name, instance_id, payload, reason, attempts, created_at
		FROM dead_letter_events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.ClusterName, &ev.InstanceID, &ev.Payload, &ev.Reason, &ev.Attempts, &ev.CreatedAt)
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("get dead letter %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get dead letter %s: %w", id, err)
	}
	return &ev, nil
}

func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]model.DeadLetterEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, cluster_name, instance_id, payload, reason, attempts, created_at
		FROM dead_letter_events
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var events []model.DeadLetterEvent
	for rows.Next() {
		var ev model.DeadLetterEvent
		if err := rows.Scan(&ev.ID, &ev.ClusterName, &ev.InstanceID, &ev.Payload, &ev.Reason, &ev.Attempts, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return events, nil
}

// Delete removes a dead letter after a successful replay.
func (s *DeadLetterStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM dead_letter_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dead letter %s: %w", id, err)
	}
	return nil
}
