package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// InstanceStatusEvent is the wire payload published by a cluster on its
// instance-events subject. Delivery is at-least-once; duplicates and
// reordering are expected and resolved by the reconciliation engine.
type InstanceStatusEvent struct {
	InstanceID  string `json:"instanceId" validate:"required"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	ClusterName string `json:"clusterName" validate:"required"`
	Phase       Phase  `json:"phase" validate:"required"`
	// Metrics, when present, replaces the instance's metrics snapshot.
	Metrics json.RawMessage `json:"metrics,omitempty"`
	// Sequence disambiguates events sharing the same timestamp.
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	// Configuration is only honored on the event that creates the instance
	// row; it is immutable afterwards.
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// Validate checks the event for required fields and a known phase. Events
// failing validation are malformed and must be dropped without retry.
func (e *InstanceStatusEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("validate event: %w", err)
	}
	if !e.Phase.Valid() {
		return fmt.Errorf("validate event: unknown phase %q", e.Phase)
	}
	return nil
}

// Supersedes reports whether the event's (timestamp, sequence) tuple is
// strictly greater, lexicographically, than the instance's recorded tuple.
func (e *InstanceStatusEvent) Supersedes(lastModified time.Time, sequence uint64) bool {
	if e.Timestamp.After(lastModified) {
		return true
	}
	if e.Timestamp.Equal(lastModified) {
		return e.Sequence > sequence
	}
	return false
}
