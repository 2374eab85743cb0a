package model

import (
	"encoding/json"
	"time"
)

// WorkspaceInstance is the authoritative record of one instance's state as
// reconciled from cluster status events. The row is created by the first
// event that mentions the instance id; no separate create event exists.
type WorkspaceInstance struct {
	InstanceID  string `json:"instance_id" db:"instance_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	// ClusterName is set on create and never reassigned by status events.
	ClusterName    string `json:"cluster_name" db:"cluster_name"`
	Phase          Phase  `json:"phase" db:"phase"`
	PhasePersisted Phase  `json:"phase_persisted" db:"phase_persisted"`
	// Deleted is a tombstone; rows are never hard-deleted.
	Deleted bool `json:"deleted" db:"deleted"`
	// Configuration is immutable after creation.
	Configuration json.RawMessage `json:"configuration,omitempty" db:"configuration"`
	// Sequence and LastModified together form the supersession tuple: an
	// event applies only if its (timestamp, sequence) is lexicographically
	// greater.
	Sequence     uint64    `json:"sequence" db:"sequence"`
	LastModified time.Time `json:"last_modified" db:"last_modified"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
